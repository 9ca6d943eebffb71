// Package block defines the contract a dataflow compute unit implements:
// port declarations, a work method, and an optional call table for
// signals/slots and parameter setters. Blocks are modeled as Go interfaces
// rather than a base class with virtual dispatch — Activater, Deactivater,
// and LabelPropagator are satisfied optionally, the way the standard
// library treats io.Closer or http.Flusher as opt-in capabilities.
package block

import (
	"github.com/flowmeshio/flowmesh/pkg/actor"
	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/port"
)

// Context bundles the per-instance state a Block's methods operate on: its
// input and output ports, its actor, and its identity for
// logging and metrics.
type Context struct {
	ID      string
	Inputs  []*port.InputPort
	Outputs []*port.OutputPort
	Actor   *actor.Actor

	yielded bool
}

// Input returns the input port at index, or nil if out of range.
func (c *Context) Input(index int) *port.InputPort {
	if index < 0 || index >= len(c.Inputs) {
		return nil
	}
	return c.Inputs[index]
}

// Output returns the output port at index, or nil if out of range.
func (c *Context) Output(index int) *port.OutputPort {
	if index < 0 || index >= len(c.Outputs) {
		return nil
	}
	return c.Outputs[index]
}

// Yield requests immediate rescheduling without consuming anything. It does
// not release the actor lock; the scheduler simply loops the work pass
// again rather than returning to the idle wait.
func (c *Context) Yield() {
	c.yielded = true
}

// Yielded reports whether Yield was called during the most recent Work.
// The scheduler resets this before every Work call.
func (c *Context) Yielded() bool {
	return c.yielded
}

// ResetYield clears the yield flag; called by the scheduler before each
// Work invocation.
func (c *Context) ResetYield() {
	c.yielded = false
}

// Block is the mandatory capability every compute unit implements: given
// its ports are in a ready state, produce or consume data.
type Block interface {
	Work(ctx *Context) error
}

// Activater is implemented by blocks that need to acquire resources before
// their first Work call.
type Activater interface {
	Activate(ctx *Context) error
}

// Deactivater is implemented by blocks that need to release resources on
// topology teardown.
type Deactivater interface {
	Deactivate(ctx *Context) error
}

// LabelPropagator overrides the default 1-to-1 forwarding
// port.PropagateLabelsDefault performs, for blocks with an explicit,
// non-trivial element-rate relationship between an input and its outputs.
type LabelPropagator interface {
	PropagateLabels(ctx *Context, inPort int)
}

// CallEntry is one named, registered callable in a block's call table: a
// slot if invoked by an incoming message, or a signal's delivery target if
// named as a subscriber. ArgTypes is advisory (used for commit-time
// validation); Func is the handler actually invoked.
type CallEntry struct {
	Name       string
	ArgTypes   []string
	ReturnType string
	Func       func(b Block, ctx *Context, args []message.Object) (message.Object, error)
}

// PortSpec declares one input or output port a block's factory registers.
type PortSpec struct {
	Index    int
	Name     string
	ElemType string
	ElemSize int
	Domain   string
	IsSignal bool
}

// Registration is everything the topology needs to instantiate and wire a
// block: a factory, its port declarations, and its call table. This is the
// Go analogue of the source's plugin-registered block factory entry.
type Registration struct {
	Name    string
	Factory func() Block
	Inputs  []PortSpec
	Outputs []PortSpec
	Calls   []CallEntry
}

// FindCall looks up a named call-table entry, false if unregistered.
func (r Registration) FindCall(name string) (CallEntry, bool) {
	for _, c := range r.Calls {
		if c.Name == name {
			return c, true
		}
	}
	return CallEntry{}, false
}
