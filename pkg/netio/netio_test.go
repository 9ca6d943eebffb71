package netio

import (
	"testing"
	"time"

	"github.com/flowmeshio/flowmesh/pkg/block"
	"github.com/flowmeshio/flowmesh/pkg/buffer"
	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/port"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSinkSourceForwardsBuffer(t *testing.T) {
	sink, err := NewSink("tcp://127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Deactivate(&block.Context{})

	source, err := NewSource(sink.BindURI("127.0.0.1"), nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer source.Deactivate(&block.Context{})

	waitUntil(t, time.Second, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.conn != nil
	})

	in := port.NewInputPort(0, "in", "int8", 1, 4)
	shared, err := buffer.Make(4, 0)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	copy(shared.Bytes(), []byte{1, 2, 3, 4})
	up, err := port.NewOutputPort(0, "up", "int8", 1, 4)
	if err != nil {
		t.Fatalf("NewOutputPort: %v", err)
	}
	up.AddSubscriber(in, nil)
	up.PostBuffer(buffer.NewBufferChunk(shared, 1, "int8"))
	up.Commit()

	sinkCtx := &block.Context{Inputs: []*port.InputPort{in}}
	if err := sink.Work(sinkCtx); err != nil {
		t.Fatalf("sink Work: %v", err)
	}

	out, err := port.NewOutputPort(0, "out", "int8", 1, 4)
	if err != nil {
		t.Fatalf("NewOutputPort: %v", err)
	}
	downstream := port.NewInputPort(0, "down", "int8", 1, 4)
	out.AddSubscriber(downstream, nil)
	sourceCtx := &block.Context{Outputs: []*port.OutputPort{out}}

	waitUntil(t, time.Second, func() bool {
		if err := source.Work(sourceCtx); err != nil {
			t.Fatalf("source Work: %v", err)
		}
		out.Commit()
		return downstream.Elements() == 4
	})

	got := downstream.Buffer().Bytes()
	if string(got) != "\x01\x02\x03\x04" {
		t.Fatalf("forwarded bytes = %v, want [1 2 3 4]", got)
	}
}

func TestSinkWorkWithoutPeerIsNoop(t *testing.T) {
	sink, err := NewSink("tcp://127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Deactivate(&block.Context{})

	in := port.NewInputPort(0, "in", "int8", 1, 4)
	ctx := &block.Context{Inputs: []*port.InputPort{in}}
	if err := sink.Work(ctx); err != nil {
		t.Fatalf("Work with no connected peer should be a no-op, got: %v", err)
	}
}

func TestSinkSourceForwardsMessage(t *testing.T) {
	sink, err := NewSink("tcp://127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Deactivate(&block.Context{})

	source, err := NewSource(sink.BindURI("127.0.0.1"), nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer source.Deactivate(&block.Context{})

	waitUntil(t, time.Second, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.conn != nil
	})

	in := port.NewInputPort(0, "in", "int8", 1, 4)
	obj, _ := message.NewObject("str", "ping")
	up, err := port.NewOutputPort(0, "up", "int8", 1, 4)
	if err != nil {
		t.Fatalf("NewOutputPort: %v", err)
	}
	up.AddSubscriber(in, nil)
	up.PostMessage(obj)
	up.Commit()

	sinkCtx := &block.Context{Inputs: []*port.InputPort{in}}
	if err := sink.Work(sinkCtx); err != nil {
		t.Fatalf("sink Work: %v", err)
	}

	out, err := port.NewOutputPort(0, "out", "int8", 1, 4)
	if err != nil {
		t.Fatalf("NewOutputPort: %v", err)
	}
	downstream := port.NewInputPort(0, "down", "int8", 1, 4)
	out.AddSubscriber(downstream, nil)
	sourceCtx := &block.Context{Outputs: []*port.OutputPort{out}}

	waitUntil(t, time.Second, func() bool {
		if err := source.Work(sourceCtx); err != nil {
			t.Fatalf("source Work: %v", err)
		}
		out.Commit()
		return downstream.HasMessage()
	})

	env, ok := downstream.PopMessage()
	if !ok || env.Payload.Interface() != "ping" {
		t.Fatalf("forwarded message = %+v, ok=%v", env, ok)
	}
}
