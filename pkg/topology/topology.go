// Package topology turns a user-declared graph of block connections into a
// running set of wired, activated worker actors, transparent to whether an
// edge's endpoints share a process. Flatten splices nested subtopologies,
// partition inserts net-iogress pairs at process boundaries, negotiate
// settles each edge's buffer manager, and commit wires subscriber lists and
// activates bottom-up.
package topology

import (
	"fmt"
	"sync"

	"github.com/flowmeshio/flowmesh/pkg/actor"
	"github.com/flowmeshio/flowmesh/pkg/block"
	"github.com/flowmeshio/flowmesh/pkg/log"
	"github.com/flowmeshio/flowmesh/pkg/metrics"
	"github.com/flowmeshio/flowmesh/pkg/port"
	"github.com/flowmeshio/flowmesh/pkg/registry"
	"github.com/flowmeshio/flowmesh/pkg/threadpool"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMsgQueueCapacity = 64
	defaultTokenCapacity    = 16
)

// BlockInstance is one committed block: its identity, the process it runs
// on, and the port/actor state the scheduler drives.
type BlockInstance struct {
	ID     string
	NodeID string
	Block  block.Block
	Ctx    *block.Context
}

// rawFlow is a user-declared connection before flatten resolves
// subtopology pass-through endpoints.
type rawFlow struct {
	srcID, dstID     string
	srcPort, dstPort int
}

// ResolvedFlow is a flatten-time edge between two concrete block instances.
type ResolvedFlow struct {
	Src     *BlockInstance
	SrcPort int
	Dst     *BlockInstance
	DstPort int
}

// node is either a concrete block or an embedded subtopology exposing
// pass-through ports.
type node struct {
	inst *BlockInstance
	sub  *Topology
}

// Topology is a mutable graph of blocks and flows. NodeID identifies the
// process this Topology instance (and any directly-added blocks) runs on;
// net-iogress insertion triggers wherever an edge crosses a NodeID
// boundary, independent of whether this process is actually distributed
// across machines — see pkg/netio's loopback-capable wire protocol.
type Topology struct {
	mu          sync.Mutex
	localNodeID string
	nodes       map[string]*node
	flows       []rawFlow

	passThroughIn  map[int]rawFlow // keyed by this topology's virtual input index
	passThroughOut map[int]rawFlow // keyed by this topology's virtual output index

	registry *registry.Table
	resolver NodeResolver

	committed      []ResolvedFlow
	netCache       map[netKey]netPair
	lastCommitErrs []error

	// pool drives every committed block's work() loop once activated;
	// poolRegistered tracks which instance IDs have already been handed to
	// it so a later incremental Commit doesn't register the same block
	// twice, and poolStarted guards against launching its worker
	// goroutines more than once across repeated commits.
	pool           *threadpool.Pool
	poolRegistered map[string]bool
	poolStarted    bool

	logger zerolog.Logger
}

// NodeResolver maps a node ID to the host/IP a net-iogress pair should bind
// or dial against. The default resolver treats every non-local node ID as
// loopback, which is sufficient to exercise the real wire protocol within a
// single process during tests.
type NodeResolver interface {
	ResolveHost(nodeID string) (string, error)
}

type loopbackResolver struct{}

func (loopbackResolver) ResolveHost(string) (string, error) { return "127.0.0.1", nil }

// New constructs an empty Topology identifying as localNodeID. table is the
// opaque-object registry net-iogress pairs use to serialize labels and
// messages; nil is valid and falls back to plain JSON encoding.
func New(localNodeID string, table *registry.Table) *Topology {
	// Args{} validates unconditionally (see threadpool.Args.validate), so
	// the error return can never fire here.
	pool, _ := threadpool.New(threadpool.Args{})
	return &Topology{
		localNodeID:    localNodeID,
		nodes:          make(map[string]*node),
		passThroughIn:  make(map[int]rawFlow),
		passThroughOut: make(map[int]rawFlow),
		registry:       table,
		resolver:       loopbackResolver{},
		netCache:       make(map[netKey]netPair),
		pool:           pool,
		poolRegistered: make(map[string]bool),
		logger:         log.WithComponent("topology"),
	}
}

// SetNodeResolver overrides the default loopback resolver, e.g. for a
// deployment that distributes node IDs onto real hosts.
func (t *Topology) SetNodeResolver(r NodeResolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolver = r
}

// SetThreadPoolArgs reconfigures the worker pool that Commit starts on its
// first successful activation. It must be called before the first Commit;
// returns an error once the pool is already running.
func (t *Topology) SetThreadPoolArgs(args threadpool.Args) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.poolStarted {
		return fmt.Errorf("%w: thread pool already started", xerrors.ErrInvalidArgument)
	}
	pool, err := threadpool.New(args)
	if err != nil {
		return err
	}
	t.pool = pool
	return nil
}

// Stop halts the worker pool driving this topology's committed blocks. Safe
// to call even if Commit never ran.
func (t *Topology) Stop() {
	t.mu.Lock()
	pool := t.pool
	started := t.poolStarted
	t.mu.Unlock()
	if started {
		pool.Stop()
	}
}

// AddBlock instantiates blk's ports from reg and registers it under id,
// running on nodeID ("" defaults to this Topology's local node).
func (t *Topology) AddBlock(id, nodeID string, blk block.Block, reg block.Registration) (*BlockInstance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.nodes[id]; exists {
		return nil, fmt.Errorf("%w: block id %q already registered", xerrors.ErrInvalidArgument, id)
	}
	if nodeID == "" {
		nodeID = t.localNodeID
	}

	inputs := make([]*port.InputPort, len(reg.Inputs))
	for i, spec := range reg.Inputs {
		inputs[i] = port.NewInputPort(spec.Index, spec.Name, spec.ElemType, spec.ElemSize, defaultMsgQueueCapacity)
	}
	outputs := make([]*port.OutputPort, len(reg.Outputs))
	for i, spec := range reg.Outputs {
		out, err := port.NewOutputPort(spec.Index, spec.Name, spec.ElemType, spec.ElemSize, defaultTokenCapacity)
		if err != nil {
			return nil, err
		}
		out.Domain = spec.Domain
		outputs[i] = out
	}
	for i, spec := range reg.Inputs {
		inputs[i].Domain = spec.Domain
	}

	inst := &BlockInstance{
		ID:     id,
		NodeID: nodeID,
		Block:  blk,
		Ctx: &block.Context{
			ID:      id,
			Inputs:  inputs,
			Outputs: outputs,
			Actor:   actor.New(),
		},
	}
	t.nodes[id] = &node{inst: inst}
	metrics.BlocksTotal.WithLabelValues(actor.Uninitialized.String()).Inc()
	return inst, nil
}

// AddSubtopology embeds sub under id so it can be wired as a single
// many-ported endpoint in this Topology's Connect calls; sub's own
// pass-through maps determine which internal block each virtual port
// resolves to.
func (t *Topology) AddSubtopology(id string, sub *Topology) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id] = &node{sub: sub}
}

// SetPassThroughInput declares that this Topology's virtual input port
// index forwards to the named internal block's input port.
func (t *Topology) SetPassThroughInput(index int, blockID string, blockPort int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passThroughIn[index] = rawFlow{dstID: blockID, dstPort: blockPort}
}

// SetPassThroughOutput declares that this Topology's virtual output port
// index is sourced from the named internal block's output port.
func (t *Topology) SetPassThroughOutput(index int, blockID string, blockPort int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passThroughOut[index] = rawFlow{srcID: blockID, srcPort: blockPort}
}

// Connect declares a flow from srcID's output srcPort to dstID's input
// dstPort. Endpoints may name a concrete block or an embedded subtopology's
// virtual port; resolution happens at Flatten time.
func (t *Topology) Connect(srcID string, srcPort int, dstID string, dstPort int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[srcID]; !ok {
		return fmt.Errorf("%w: unknown source block %q", xerrors.ErrTopologyConnect, srcID)
	}
	if _, ok := t.nodes[dstID]; !ok {
		return fmt.Errorf("%w: unknown destination block %q", xerrors.ErrTopologyConnect, dstID)
	}
	t.flows = append(t.flows, rawFlow{srcID: srcID, srcPort: srcPort, dstID: dstID, dstPort: dstPort})
	return nil
}

// Disconnect removes a previously declared flow; a no-op if it isn't
// present. Disconnecting mid-commit is explicitly permitted by spec.md's
// wiring discipline — the next Commit computes the delta against whatever
// flow set exists at that time.
func (t *Topology) Disconnect(srcID string, srcPort int, dstID string, dstPort int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	target := rawFlow{srcID: srcID, srcPort: srcPort, dstID: dstID, dstPort: dstPort}
	for i, f := range t.flows {
		if f == target {
			t.flows = append(t.flows[:i], t.flows[i+1:]...)
			return
		}
	}
}

// newCommitID is used to scope a commit's log lines; grounded on
// pkg/log.WithCommitID.
func newCommitID() string { return uuid.NewString() }
