package port

import (
	"context"
	"sort"
	"sync"

	"github.com/flowmeshio/flowmesh/pkg/buffer"
	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/metrics"
	"golang.org/x/time/rate"
)

// InputPort holds the per-port state a block's work() preconditions and
// body read from: the accumulated stream buffer, inline labels ordered by
// index, a bounded async message queue, and running counters.
type InputPort struct {
	mu sync.Mutex

	Index    int
	Name     string
	ElemType string
	ElemSize int
	Domain   string
	reserve  int

	acc     accumulator
	labels  []Label
	msgs    *message.Queue

	TotalElements int
	TotalMessages int
	TotalLabels   int
	TotalWork     int
}

// NewInputPort constructs a port ready to receive buffers, labels, and
// messages. msgQueueCapacity bounds the async message backlog; overflow
// drops the oldest pending message.
func NewInputPort(index int, name, elemType string, elemSize int, msgQueueCapacity int) *InputPort {
	msgs := message.NewQueue(msgQueueCapacity)
	msgs.SetName(name)
	return &InputPort{
		Index:    index,
		Name:     name,
		ElemType: elemType,
		ElemSize: elemSize,
		msgs:     msgs,
	}
}

// SetReserve declares the minimum elements required before the scheduler
// considers this port ready for work().
func (p *InputPort) SetReserve(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserve = n
}

// Reserve returns the currently configured element threshold.
func (p *InputPort) Reserve() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve
}

// pushBuffer appends an upstream BufferChunk to the accumulator. Called by
// the delivering output port's worker actor during commit-time fan-out.
func (p *InputPort) pushBuffer(c buffer.BufferChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acc.push(c)
}

// pushLabel inserts an inline label, maintaining non-decreasing order by
// index.
func (p *InputPort) pushLabel(l Label) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.labels), func(i int) bool { return p.labels[i].Index > l.Index })
	p.labels = append(p.labels, Label{})
	copy(p.labels[i+1:], p.labels[i:])
	p.labels[i] = l
	p.TotalLabels++
}

// pushMessage enqueues an async message envelope.
func (p *InputPort) pushMessage(env message.Envelope) {
	p.msgs.Push(env)
	p.mu.Lock()
	p.TotalMessages++
	p.mu.Unlock()
}

// Elements returns the number of logical elements currently available at
// the front of the accumulator.
func (p *InputPort) Elements() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acc.elements()
}

// Buffer returns a BufferChunk view over the contiguous front run.
func (p *InputPort) Buffer() buffer.BufferChunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acc.buffer()
}

// Consume advances the accumulator by n elements and updates counters.
func (p *InputPort) Consume(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acc.consume(n)
	p.TotalElements += n
}

// Labels returns the labels currently visible (index within available
// bytes), ordered by index.
func (p *InputPort) Labels() []Label {
	p.mu.Lock()
	defer p.mu.Unlock()
	avail := p.acc.elements() * p.ElemSize
	out := make([]Label, 0, len(p.labels))
	for _, l := range p.labels {
		if l.Index < avail {
			out = append(out, l)
		}
	}
	return out
}

// RemoveLabel deletes l by identity (ID) from the pending label set.
func (p *InputPort) RemoveLabel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.labels {
		if l.ID == id {
			p.labels = append(p.labels[:i], p.labels[i+1:]...)
			return
		}
	}
}

// HasMessage reports whether an async message is waiting.
func (p *InputPort) HasMessage() bool {
	return !p.msgs.Empty()
}

// PopMessage removes and returns the oldest pending message, releasing any
// token it carried back to TokensInFlight accounting.
func (p *InputPort) PopMessage() (message.Envelope, bool) {
	env, ok := p.msgs.Pop()
	if ok && env.HasToken {
		metrics.TokensInFlight.WithLabelValues(env.SourcePort).Dec()
	}
	return env, ok
}

// Ready reports whether this port satisfies its work() precondition: a
// pending message, at least reserve elements, or a non-empty label set.
func (p *InputPort) Ready() bool {
	p.mu.Lock()
	reserve := p.reserve
	avail := p.acc.elements()
	hasLabels := len(p.labels) > 0
	p.mu.Unlock()
	return p.HasMessage() || avail >= reserve || hasLabels
}

// OutputPort holds the per-port state produce()/post*() write into: a
// pending-elements counter (not yet committed), FIFOs of buffers/labels/
// messages awaiting the work()-exit commit point, and the buffer/token
// managers that back this port.
type OutputPort struct {
	mu sync.Mutex

	Index    int
	Name     string
	ElemType string
	ElemSize int
	Domain   string
	IsSignal bool

	mgr   buffer.Manager
	token *TokenManager

	pending        int
	postedBuffers  []buffer.BufferChunk
	postedLabels   []Label
	postedMessages []message.Envelope

	subscribers []subscriber

	readBeforeWrite *InputPort

	TotalProduced int
}

// NewOutputPort constructs a port with its own buffer manager (mgr may be
// nil until topology commit negotiates one) and a token manager of
// capacity tokenCapacity guarding its message channel.
func NewOutputPort(index int, name, elemType string, elemSize int, tokenCapacity int) (*OutputPort, error) {
	tok, err := NewTokenManager(tokenCapacity)
	if err != nil {
		return nil, err
	}
	return &OutputPort{
		Index:    index,
		Name:     name,
		ElemType: elemType,
		ElemSize: elemSize,
		token:    tok,
	}, nil
}

// SetBufferManager installs the manager this output will pop/push through,
// decided during topology commit's buffer-manager negotiation step.
func (p *OutputPort) SetBufferManager(mgr buffer.Manager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mgr = mgr
}

// BufferManager returns the currently installed manager, nil before
// negotiation.
func (p *OutputPort) BufferManager() buffer.Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mgr
}

// SetReadBeforeWrite instructs this output to prefer allocating from the
// given input's returning buffers when element sizes match, an in-place
// reuse optimization negotiated at commit time.
func (p *OutputPort) SetReadBeforeWrite(in *InputPort) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBeforeWrite = in
}

// subscriber pairs a downstream input port with the wake hook that lets
// Commit notify the owning actor's scheduler after delivery, since an
// InputPort itself has no reference back to the WorkerActor that owns it.
type subscriber struct {
	in   *InputPort
	wake func()
}

// AddSubscriber registers a downstream input port to receive this output's
// committed buffers, labels, and messages, and wake (typically an actor's
// FlagChange) to notify the owning actor's scheduler of new work. Topology
// commit rebuilds the subscriber list from scratch on every commit.
func (p *OutputPort) AddSubscriber(in *InputPort, wake func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, subscriber{in: in, wake: wake})
}

// RemoveSubscriber drops in from the subscriber list.
func (p *OutputPort) RemoveSubscriber(in *InputPort) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subscribers {
		if s.in == in {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// Produce increments the pending-elements counter. This is not the commit
// point: the actor commits pending production on work() exit via Commit.
func (p *OutputPort) Produce(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending += n
}

// PostBuffer enqueues a zero-copy BufferChunk for delivery to every
// subscriber on the next Commit.
func (p *OutputPort) PostBuffer(c buffer.BufferChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postedBuffers = append(p.postedBuffers, c)
}

// PostLabel normalizes elementIndex to a byte index (multiplying by
// ElemSize) and enqueues the label for delivery on the next Commit.
func (p *OutputPort) PostLabel(id string, elementIndex int, value message.Object, width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postedLabels = append(p.postedLabels, Label{
		Index: elementIndex * p.ElemSize,
		ID:    id,
		Value: value,
		Width: width,
	})
}

// PostMessage enqueues val for delivery on the next Commit, subject to
// token-manager back-pressure: if the token manager is empty, the call
// blocks until a token returns, without interrupting buffer processing on
// other ports (the caller is expected to invoke PostMessage from the
// actor's own goroutine, which only ever processes one port's work at a
// time, so blocking here only delays this block's own progress, never a
// peer's).
func (p *OutputPort) PostMessage(val message.Object) {
	tok, ok := p.token.TryAcquire()
	if !ok {
		limiter := rate.NewLimiter(rate.Limit(tokenWaitRetryHz), 1)
		for !ok {
			_ = limiter.Wait(context.Background())
			tok, ok = p.token.TryAcquire()
		}
	}
	metrics.TokensInFlight.WithLabelValues(p.Name).Inc()
	p.mu.Lock()
	p.postedMessages = append(p.postedMessages, message.Envelope{Payload: val, HasToken: true, SourcePort: p.Name})
	_ = tok // token is released by the subscriber once the message is consumed
	p.mu.Unlock()
}

// tokenWaitRetryHz bounds how often PostMessage re-polls the token manager
// while blocked waiting for a token to return.
const tokenWaitRetryHz = 200

// Commit is called once on work() exit: it pops pending*ElemSize bytes
// from the buffer manager, forwards the resulting chunk and every posted
// buffer/label/message to each subscriber. It reports whether anything was
// actually delivered, the signal threadpool's scheduler uses to tell a
// productive work() pass from a no-op one.
func (p *OutputPort) Commit() bool {
	p.mu.Lock()
	pending := p.pending
	p.pending = 0
	postedBuffers := p.postedBuffers
	p.postedBuffers = nil
	postedLabels := p.postedLabels
	p.postedLabels = nil
	postedMessages := p.postedMessages
	p.postedMessages = nil
	mgr := p.mgr
	subs := append([]subscriber(nil), p.subscribers...)
	p.mu.Unlock()

	delivered := pending > 0 || len(postedBuffers) > 0 || len(postedLabels) > 0 || len(postedMessages) > 0

	if pending > 0 && mgr != nil {
		produced := mgr.Front()
		mgr.Pop(pending * p.ElemSize)
		chunk := buffer.NewBufferChunkManaged(produced, p.ElemSize, p.ElemType)
		chunk.Length = pending * p.ElemSize
		postedBuffers = append([]buffer.BufferChunk{chunk}, postedBuffers...)
		p.mu.Lock()
		p.TotalProduced += pending
		p.mu.Unlock()
	}

	for _, sub := range subs {
		for _, c := range postedBuffers {
			sub.in.pushBuffer(c)
		}
		for _, l := range postedLabels {
			sub.in.pushLabel(l)
		}
		for _, env := range postedMessages {
			sub.in.pushMessage(env)
		}
		if sub.wake != nil && (len(postedBuffers) > 0 || len(postedLabels) > 0 || len(postedMessages) > 0) {
			sub.wake()
		}
	}

	return delivered
}

// PropagateLabelsDefault forwards each label visible on in to every output
// in outs, scaling the index by in.ElemSize/out.ElemSize per spec.md's
// default 1-to-1 element-rate rule. Blocks with explicit non-1:1 rates
// must call PostLabel themselves instead of relying on this helper.
func PropagateLabelsDefault(in *InputPort, outs []*OutputPort) {
	for _, l := range in.Labels() {
		for _, out := range outs {
			idx := l.adjustedIndex(in.ElemSize, out.ElemSize)
			out.mu.Lock()
			out.postedLabels = append(out.postedLabels, Label{Index: idx, ID: l.ID, Value: l.Value, Width: l.Width})
			out.mu.Unlock()
		}
	}
}
