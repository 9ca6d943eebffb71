package buffer

import (
	"fmt"

	"github.com/flowmeshio/flowmesh/pkg/metrics"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// ManagerArgs configures a BufferManager at construction time.
type ManagerArgs struct {
	// NumBuffers is the number of independently returnable slices handed
	// out by a slab manager, or the number of buffer_size-sized windows
	// held by a circular manager. Default 4.
	NumBuffers int
	// BufferSize is the number of bytes available per managed buffer (or
	// per circular window). Default 8192.
	BufferSize int
	// NodeAffinity is a best-effort NUMA hint, honored only by Make/MakeCirc
	// at the SharedBuffer layer.
	NodeAffinity int
}

func (a ManagerArgs) withDefaults() ManagerArgs {
	if a.NumBuffers <= 0 {
		a.NumBuffers = 4
	}
	if a.BufferSize <= 0 {
		a.BufferSize = 8192
	}
	return a
}

// Manager pools ManagedBuffers and exposes the front/pop/push queue
// interface every allocation strategy (slab, circular, or a custom plugin)
// implements identically, so callers never need to know which one backs a
// given port.
type Manager interface {
	Init(args ManagerArgs) error
	Empty() bool
	Front() ManagedBuffer
	Pop(numBytes int)
	Push(buf ManagedBuffer) error
	// PushExternal is the thread-safe path used when a ManagedBuffer's
	// last reference drops outside the owning actor's serialized context.
	// It either calls the registered callback or falls back to Push.
	PushExternal(buf ManagedBuffer)
	SetCallback(cb func(ManagedBuffer))
}

// baseManager implements the PushExternal/SetCallback pair shared by every
// concrete manager, mirroring the non-virtual helper methods on the
// source's abstract BufferManager.
type baseManager struct {
	callback func(ManagedBuffer)
	push     func(ManagedBuffer) error
}

func (b *baseManager) SetCallback(cb func(ManagedBuffer)) {
	b.callback = cb
}

func (b *baseManager) PushExternal(buf ManagedBuffer) {
	if b.callback != nil {
		b.callback(buf)
		return
	}
	_ = b.push(buf)
}

// NewSlabManager constructs an uninitialized generic slab BufferManager.
func NewSlabManager() *SlabManager {
	m := &SlabManager{}
	m.base.push = func(buf ManagedBuffer) error { return m.Push(buf) }
	return m
}

// SlabManager holds num_buffers independent slices of one large SharedBuffer
// and hands them out in round-robin order, guaranteeing via orderedQueue
// that out-of-order pushes still surface at front() in issue order.
type SlabManager struct {
	base       baseManager
	args       ManagerArgs
	backing    SharedBuffer
	slots      []ManagedBuffer
	ready      *orderedQueue
	curOffset  int // bytes already consumed from the current front slot
}

func (m *SlabManager) Init(args ManagerArgs) error {
	args = args.withDefaults()
	m.args = args

	backing, err := Make(args.NumBuffers*args.BufferSize, args.NodeAffinity)
	if err != nil {
		return fmt.Errorf("buffer: slab manager init: %w", err)
	}
	m.backing = backing

	m.slots = make([]ManagedBuffer, args.NumBuffers)
	m.ready = newOrderedQueue(args.NumBuffers)
	for i := 0; i < args.NumBuffers; i++ {
		slice, err := Slice(backing, backing.Address()+uintptr(i*args.BufferSize), args.BufferSize)
		if err != nil {
			return fmt.Errorf("buffer: slab manager slice %d: %w", i, err)
		}
		mb := newManagedBuffer(slice, i, m.base.PushExternal)
		m.slots[i] = mb
		m.ready.push(mb, i)
	}
	return nil
}

func (m *SlabManager) Empty() bool {
	return m.ready.empty()
}

func (m *SlabManager) Front() ManagedBuffer {
	front := m.ready.front()
	if m.curOffset == 0 {
		return front
	}
	remaining, _ := Slice(front.SharedBuffer(), front.SharedBuffer().Address()+uintptr(m.curOffset), front.SharedBuffer().Length()-m.curOffset)
	view := front.Clone()
	view.rebind(remaining)
	return view
}

// Pop advances within the current slot when the remaining bytes after the
// consume are still more than half the slot (cheap reuse of the tail),
// otherwise the whole slot retires and rotates out of the ready queue.
func (m *SlabManager) Pop(numBytes int) {
	m.curOffset += numBytes
	remaining := m.args.BufferSize - m.curOffset
	if 2*remaining > m.args.BufferSize {
		return
	}
	m.ready.pop()
	m.curOffset = 0
	metrics.ManagedBuffersInFlight.WithLabelValues("slab").Inc()
}

func (m *SlabManager) Push(buf ManagedBuffer) error {
	idx := buf.SlabIndex()
	if idx < 0 || idx >= len(m.slots) {
		return fmt.Errorf("%w: slab index %d out of range", xerrors.ErrBufferPush, idx)
	}
	m.ready.push(buf, idx)
	metrics.ManagedBuffersInFlight.WithLabelValues("slab").Dec()
	return nil
}

func (m *SlabManager) PushExternal(buf ManagedBuffer) { m.base.PushExternal(buf) }
func (m *SlabManager) SetCallback(cb func(ManagedBuffer)) { m.base.SetCallback(cb) }

// NewCircularManager constructs an uninitialized circular BufferManager.
func NewCircularManager() *CircularManager {
	m := &CircularManager{}
	m.base.push = func(buf ManagedBuffer) error { return m.Push(buf) }
	return m
}

// CircularManager holds one physically-aliased SharedBuffer of size
// buffer_size*num_buffers and exposes a moving buffer_size-wide front
// window; the alias mapping lets callers read or write past the window's
// logical end without any copy.
type CircularManager struct {
	base         baseManager
	args         ManagerArgs
	backing      SharedBuffer
	totalLength  int
	frontAddress uintptr
	pendingBytes int
	windows      *orderedQueue
}

func (m *CircularManager) Init(args ManagerArgs) error {
	args = args.withDefaults()
	m.args = args
	m.totalLength = args.NumBuffers * args.BufferSize

	backing, err := MakeCirc(m.totalLength, args.NodeAffinity)
	if err != nil {
		return fmt.Errorf("buffer: circular manager init: %w", err)
	}
	m.backing = backing
	m.frontAddress = backing.Address()

	m.windows = newOrderedQueue(args.NumBuffers)
	for i := 0; i < args.NumBuffers; i++ {
		window, err := Slice(backing, backing.Address()+uintptr(i*args.BufferSize), args.BufferSize)
		if err != nil {
			return fmt.Errorf("buffer: circular manager slice %d: %w", i, err)
		}
		mb := newManagedBuffer(window, i, m.base.PushExternal)
		m.windows.push(mb, i)
	}
	return nil
}

func (m *CircularManager) Empty() bool {
	return m.windows.empty()
}

// Front returns a window starting at the moving front address with length
// buffer_size, regardless of which slab window originally backed that
// address: because the buffer is physically aliased, any buffer_size-wide
// slice starting within [base, base+totalLength) is valid memory.
func (m *CircularManager) Front() ManagedBuffer {
	front := m.windows.front()
	view, err := Slice(m.backing, m.frontAddress, m.args.BufferSize)
	if err != nil {
		return front
	}
	result := front.Clone()
	result.rebind(view)
	return result
}

// Pop accumulates numBytes and, as long as the running total stays under
// half the window size, reuses the current window in place rather than
// retiring it — the same cheap-tail-reuse trade SlabManager.Pop makes, just
// expressed as a moving front address instead of an in-slot offset. Once the
// threshold is crossed, the window retires and the front address advances by
// the actual accumulated amount, not a fixed buffer_size multiple.
func (m *CircularManager) Pop(numBytes int) {
	m.pendingBytes += numBytes
	if 2*m.pendingBytes < m.args.BufferSize {
		return
	}
	m.frontAddress += uintptr(m.pendingBytes)
	if m.frontAddress >= m.backing.Address()+uintptr(m.totalLength) {
		m.frontAddress -= uintptr(m.totalLength)
	}
	m.windows.pop()
	m.pendingBytes = 0
	metrics.ManagedBuffersInFlight.WithLabelValues("circular").Inc()
}

func (m *CircularManager) Push(buf ManagedBuffer) error {
	idx := buf.SlabIndex()
	if idx < 0 || idx >= m.args.NumBuffers {
		return fmt.Errorf("%w: circular window %d out of range", xerrors.ErrBufferPush, idx)
	}
	m.windows.push(buf, idx)
	metrics.ManagedBuffersInFlight.WithLabelValues("circular").Dec()
	return nil
}

func (m *CircularManager) PushExternal(buf ManagedBuffer)     { m.base.PushExternal(buf) }
func (m *CircularManager) SetCallback(cb func(ManagedBuffer)) { m.base.SetCallback(cb) }
