package buffer

import "sync/atomic"

// managedOwner is the data a ManagedBuffer's copies share: the SharedBuffer
// slice handed out by a manager, the slab index that slice occupies, and the
// manager's external-return hook. No strong reference cycle exists back to
// the manager: managedOwner holds a narrow callback, not the manager itself.
type managedOwner struct {
	buf        SharedBuffer
	slabIndex  int
	refs       atomic.Int32
	returned   atomic.Bool
	pushExt    func(ManagedBuffer)
}

// ManagedBuffer couples a SharedBuffer slice with a pool handle: when the
// last copy is released, the manager that minted it is notified through
// pushExternal, which may run on any goroutine.
type ManagedBuffer struct {
	owner *managedOwner
}

// newManagedBuffer is called by a BufferManager during init to mint one
// slab slot. pushExt is invoked exactly once, when the last copy of the
// returned ManagedBuffer is released.
func newManagedBuffer(buf SharedBuffer, slabIndex int, pushExt func(ManagedBuffer)) ManagedBuffer {
	owner := &managedOwner{buf: buf, slabIndex: slabIndex, pushExt: pushExt}
	owner.refs.Store(1)
	return ManagedBuffer{owner: owner}
}

// Clone returns a new reference-counted copy of b. Each Clone must be
// balanced by exactly one Release.
func (b ManagedBuffer) Clone() ManagedBuffer {
	if b.owner != nil {
		b.owner.refs.Add(1)
	}
	return b
}

// Release drops this copy's reference. On the last release the owning
// manager's external-return hook fires exactly once with a fresh handle
// over the same slab slot, ready for BufferManager.push.
func (b ManagedBuffer) Release() {
	if b.owner == nil {
		return
	}
	if b.owner.refs.Add(-1) != 0 {
		return
	}
	if b.owner.pushExt != nil && !b.owner.returned.Swap(true) {
		returned := ManagedBuffer{owner: &managedOwner{buf: b.owner.buf, slabIndex: b.owner.slabIndex, pushExt: b.owner.pushExt}}
		returned.owner.refs.Store(1)
		b.owner.pushExt(returned)
	}
}

// SlabIndex returns the slab slot this buffer occupies, unique within the
// BufferManager that minted it.
func (b ManagedBuffer) SlabIndex() int {
	if b.owner == nil {
		return -1
	}
	return b.owner.slabIndex
}

// SharedBuffer returns the underlying memory slice.
func (b ManagedBuffer) SharedBuffer() SharedBuffer {
	if b.owner == nil {
		return SharedBuffer{}
	}
	return b.owner.buf
}

// Valid reports whether b references a real slab slot.
func (b ManagedBuffer) Valid() bool {
	return b.owner != nil
}

// UseCount reports how many live copies share b's owner.
func (b ManagedBuffer) UseCount() int {
	if b.owner == nil {
		return 0
	}
	return int(b.owner.refs.Load())
}

// rebind replaces the slice this ManagedBuffer addresses in place, used by
// the slab manager to expose the unconsumed tail of its front slot and by
// the circular manager to slide its front window across one physically
// aliased SharedBuffer, without minting a new slab slot.
func (b ManagedBuffer) rebind(mem SharedBuffer) {
	if b.owner != nil {
		b.owner.buf = mem
	}
}
