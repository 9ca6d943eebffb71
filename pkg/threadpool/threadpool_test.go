package threadpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowmeshio/flowmesh/pkg/actor"
	"github.com/flowmeshio/flowmesh/pkg/block"
)

type countingBlock struct {
	calls atomic.Int64
}

func (b *countingBlock) Work(ctx *block.Context) error {
	b.calls.Add(1)
	return nil
}

func TestArgsValidate(t *testing.T) {
	if _, err := New(Args{Priority: 2}); err == nil {
		t.Fatal("expected out-of-range priority to fail validation")
	}
	if _, err := New(Args{AffinityMode: "bogus"}); err == nil {
		t.Fatal("expected unknown affinity mode to fail validation")
	}
	if _, err := New(Args{YieldMode: "bogus"}); err == nil {
		t.Fatal("expected unknown yield mode to fail validation")
	}
}

func TestArgsDefaults(t *testing.T) {
	p, err := New(Args{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.args.NumThreads <= 0 {
		t.Fatalf("NumThreads default = %d, want > 0", p.args.NumThreads)
	}
	if p.args.AffinityMode != AffinityAll {
		t.Fatalf("AffinityMode default = %v, want ALL", p.args.AffinityMode)
	}
	if p.args.YieldMode != YieldCondition {
		t.Fatalf("YieldMode default = %v, want CONDITION", p.args.YieldMode)
	}
}

func TestPoolDrivesActiveActor(t *testing.T) {
	p, err := New(Args{NumThreads: 2, YieldMode: YieldSpin})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blk := &countingBlock{}
	a := actor.New()
	a.SetState(actor.Active)
	ctx := &block.Context{ID: "b1", Actor: a}
	p.Register("b1", a, blk, ctx, nil)

	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for blk.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if blk.calls.Load() == 0 {
		t.Fatal("expected the active actor's block to run at least once")
	}
}

func TestPoolSkipsInactiveActor(t *testing.T) {
	p, err := New(Args{NumThreads: 1, YieldMode: YieldSpin})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blk := &countingBlock{}
	a := actor.New() // Uninitialized, never set Active
	ctx := &block.Context{ID: "b1", Actor: a}
	p.Register("b1", a, blk, ctx, nil)

	p.Start()
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if blk.calls.Load() != 0 {
		t.Fatalf("expected inactive actor's block not to run, got %d calls", blk.calls.Load())
	}
}

func TestPoolRespectsReadyPredicate(t *testing.T) {
	p, err := New(Args{NumThreads: 1, YieldMode: YieldSpin})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blk := &countingBlock{}
	a := actor.New()
	a.SetState(actor.Active)
	ctx := &block.Context{ID: "b1", Actor: a}
	var ready atomic.Bool
	p.Register("b1", a, blk, ctx, ready.Load)

	p.Start()
	time.Sleep(30 * time.Millisecond)
	if blk.calls.Load() != 0 {
		t.Fatal("expected no work while ready predicate is false")
	}
	ready.Store(true)
	a.FlagChange()

	deadline := time.Now().Add(time.Second)
	for blk.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	if blk.calls.Load() == 0 {
		t.Fatal("expected work once ready predicate became true")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p, err := New(Args{NumThreads: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start()
	p.Stop()
	p.Stop() // must not panic or block
}
