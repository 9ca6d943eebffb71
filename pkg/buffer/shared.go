package buffer

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// minAlign is the minimum address alignment spec.md §4.1 requires of any
// SharedBuffer allocation.
const minAlign = 16

// sharedOwner is the single allocation backing one or more SharedBuffer
// slices. It is reference counted; the last Release triggers releaseFn,
// which returns the underlying mapping via whatever OS call the allocator
// that created it requires (munmap for circular/file-backed buffers, a
// no-op for generic heap buffers left to the Go GC).
type sharedOwner struct {
	mem        []byte // the full extent this owner allocated
	circular   bool   // true for physically-aliased circular allocations
	refs       atomic.Int32
	releaseFn  func()
	releasedAt atomic.Bool
}

func (o *sharedOwner) retain() {
	o.refs.Add(1)
}

func (o *sharedOwner) release() {
	if o.refs.Add(-1) != 0 {
		return
	}
	if o.releaseFn != nil && !o.releasedAt.Swap(true) {
		o.releaseFn()
	}
}

// SharedBuffer is a reference-counted view over raw memory: contiguous,
// optionally physically-aliased ("circular"), or file-backed. Copies of a
// SharedBuffer share the owner's refcount; Release must be called exactly
// once per copy obtained via Make/MakeCirc/MakeFromFile/Slice/Clone.
type SharedBuffer struct {
	owner *sharedOwner
	mem   []byte // this copy's view into owner.mem
}

// Make allocates size bytes from the generic heap allocator, aligned to at
// least 16 bytes. nodeAffinity is a best-effort NUMA hint; failing to honor
// it is not an error (this allocator does not attempt NUMA placement at
// all, matching the "best effort" contract of spec.md §4.1).
func Make(size int, nodeAffinity int) (SharedBuffer, error) {
	if size < 0 {
		return SharedBuffer{}, fmt.Errorf("buffer: negative size %d", size)
	}
	mem := alignedAlloc(size, minAlign)
	owner := &sharedOwner{mem: mem}
	owner.refs.Store(1)
	return SharedBuffer{owner: owner, mem: mem}, nil
}

// MakeCirc allocates a physically-aliased circular buffer of at least size
// bytes: reading or writing starting anywhere in [0,length) and continuing
// past length wraps transparently onto the same physical memory, because
// [0,length) and [length,2*length) are two virtual mappings of one physical
// region. nodeAffinity is accepted for symmetry with Make but, like Make, is
// not honored by this allocator.
func MakeCirc(size int, nodeAffinity int) (SharedBuffer, error) {
	if size < 0 {
		return SharedBuffer{}, fmt.Errorf("buffer: negative size %d", size)
	}
	mem, release, err := makeCircMem(size)
	if err != nil {
		return SharedBuffer{}, err
	}
	owner := &sharedOwner{mem: mem, circular: true, releaseFn: release}
	owner.refs.Store(1)
	return SharedBuffer{owner: owner, mem: mem}, nil
}

// MakeFromFile maps the entire file at path. Writes are visible in the
// file iff both writable and shared are true; otherwise the mapping is
// copy-on-write (writable, !shared) or read-only (!writable).
func MakeFromFile(path string, writable, shared bool) (SharedBuffer, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return SharedBuffer{}, fmt.Errorf("buffer: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return SharedBuffer{}, fmt.Errorf("buffer: stat %s: %w", path, err)
	}

	return mmapFile(f, int(info.Size()), writable, shared)
}

// Slice returns a child SharedBuffer sharing the parent's refcount, whose
// memory is the subrange [address, address+length) of the parent's own
// extent. Fails when the requested range exceeds the parent's bounds.
func Slice(parent SharedBuffer, address uintptr, length int) (SharedBuffer, error) {
	if length < 0 {
		return SharedBuffer{}, fmt.Errorf("buffer: negative slice length %d", length)
	}
	base := parent.Address()
	end := base + uintptr(parent.Length())
	if address < base || address+uintptr(length) > end {
		return SharedBuffer{}, fmt.Errorf("buffer: slice [%#x,%#x) exceeds parent [%#x,%#x)", address, address+uintptr(length), base, end)
	}
	off := address - base
	parent.owner.retain()
	return SharedBuffer{owner: parent.owner, mem: parent.mem[off : off+uintptr(length)]}, nil
}

// Clone returns an independent copy of b sharing the same owner refcount.
// The returned copy must itself be Released.
func (b SharedBuffer) Clone() SharedBuffer {
	if b.owner != nil {
		b.owner.retain()
	}
	return b
}

// Release drops this copy's reference. When the last copy of an owner is
// released, the owner's backing mapping is returned to the OS.
func (b SharedBuffer) Release() {
	if b.owner != nil {
		b.owner.release()
	}
}

// Address returns the starting address of this buffer's memory.
func (b SharedBuffer) Address() uintptr {
	if len(b.mem) == 0 {
		if b.owner == nil || len(b.owner.mem) == 0 {
			return 0
		}
		return uintptr(unsafe.Pointer(unsafe.SliceData(b.owner.mem)))
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.mem)))
}

// Length returns the number of bytes available in this buffer.
func (b SharedBuffer) Length() int {
	return len(b.mem)
}

// Alias returns the alias address: base+length mapped a second time, for
// circular buffers only. Returns 0 for non-circular buffers.
func (b SharedBuffer) Alias() uintptr {
	if b.owner == nil || !b.owner.circular {
		return 0
	}
	return b.Address() + uintptr(b.Length())
}

// Bytes returns the raw memory this buffer addresses. Callers must not
// retain the slice beyond the buffer's lifetime (i.e. past a Release that
// drops the last reference).
func (b SharedBuffer) Bytes() []byte {
	return b.mem
}

// Valid reports whether this buffer addresses any memory.
func (b SharedBuffer) Valid() bool {
	return b.owner != nil
}

// UseCount returns the number of live copies sharing this buffer's owner,
// for tests and diagnostics.
func (b SharedBuffer) UseCount() int {
	if b.owner == nil {
		return 0
	}
	return int(b.owner.refs.Load())
}

func alignedAlloc(size, align int) []byte {
	if size == 0 {
		// A zero-size allocation still succeeds (spec.md §8 boundary
		// behavior) but has no address worth aligning.
		return []byte{}
	}
	raw := make([]byte, size+align-1)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	offset := (base+uintptr(align)-1)/uintptr(align)*uintptr(align) - base
	return raw[offset : offset+uintptr(size) : offset+uintptr(size)]
}
