package block

import (
	"testing"

	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/port"
)

type plainBlock struct{}

func (plainBlock) Work(ctx *Context) error { return nil }

type activatingBlock struct {
	plainBlock
	activated, deactivated bool
}

func (b *activatingBlock) Activate(ctx *Context) error   { b.activated = true; return nil }
func (b *activatingBlock) Deactivate(ctx *Context) error { b.deactivated = true; return nil }

func TestOptionalInterfacesAreOptIn(t *testing.T) {
	var blk Block = plainBlock{}
	if _, ok := blk.(Activater); ok {
		t.Fatal("plainBlock should not satisfy Activater")
	}
	if _, ok := blk.(Deactivater); ok {
		t.Fatal("plainBlock should not satisfy Deactivater")
	}

	var act Block = &activatingBlock{}
	a, ok := act.(Activater)
	if !ok {
		t.Fatal("activatingBlock should satisfy Activater")
	}
	if err := a.Activate(&Context{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !act.(*activatingBlock).activated {
		t.Fatal("expected Activate to run")
	}
}

func TestContextInputOutputBounds(t *testing.T) {
	ctx := &Context{
		Inputs:  []*port.InputPort{port.NewInputPort(0, "in", "int8", 1, 4)},
		Outputs: nil,
	}
	if ctx.Input(0) == nil {
		t.Fatal("expected Input(0) to return the declared port")
	}
	if ctx.Input(1) != nil {
		t.Fatal("expected Input(1) out of range to return nil")
	}
	if ctx.Output(0) != nil {
		t.Fatal("expected Output(0) with no outputs to return nil")
	}
}

func TestYieldFlag(t *testing.T) {
	ctx := &Context{}
	if ctx.Yielded() {
		t.Fatal("expected fresh context not yielded")
	}
	ctx.Yield()
	if !ctx.Yielded() {
		t.Fatal("expected Yielded() true after Yield()")
	}
	ctx.ResetYield()
	if ctx.Yielded() {
		t.Fatal("expected ResetYield to clear the flag")
	}
}

func TestRegistrationFindCall(t *testing.T) {
	reg := Registration{
		Calls: []CallEntry{
			{Name: "setRate", Func: func(b Block, ctx *Context, args []message.Object) (message.Object, error) {
				return message.Null(), nil
			}},
		},
	}
	entry, ok := reg.FindCall("setRate")
	if !ok {
		t.Fatal("expected setRate to be found")
	}
	if _, err := entry.Func(plainBlock{}, &Context{}, nil); err != nil {
		t.Fatalf("call func: %v", err)
	}
	if _, ok := reg.FindCall("missing"); ok {
		t.Fatal("expected missing call name to not be found")
	}
}
