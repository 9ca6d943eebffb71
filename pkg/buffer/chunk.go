package buffer

// BufferChunk is the cheap value handle ports and blocks pass around: an
// address, a length in bytes, an element size, and an element-type tag,
// plus an optional reference into the managed or shared layer that actually
// owns the memory. Two BufferChunks can address the same memory and share
// its reference count without either side copying bytes.
type BufferChunk struct {
	Address   uintptr
	Length    int
	ElemSize  int
	ElemType  string
	managed   ManagedBuffer
	shared    SharedBuffer
}

// NewBufferChunk wraps a SharedBuffer as a non-returnable BufferChunk.
func NewBufferChunk(buf SharedBuffer, elemSize int, elemType string) BufferChunk {
	return BufferChunk{
		Address:  buf.Address(),
		Length:   buf.Length(),
		ElemSize: elemSize,
		ElemType: elemType,
		shared:   buf,
	}
}

// NewBufferChunkManaged wraps a ManagedBuffer as a returnable BufferChunk.
func NewBufferChunkManaged(buf ManagedBuffer, elemSize int, elemType string) BufferChunk {
	return BufferChunk{
		Address:  buf.SharedBuffer().Address(),
		Length:   buf.SharedBuffer().Length(),
		ElemSize: elemSize,
		ElemType: elemType,
		managed:  buf,
		shared:   buf.SharedBuffer(),
	}
}

// Elements returns the number of logical elements this chunk addresses.
func (c BufferChunk) Elements() int {
	if c.ElemSize == 0 {
		return 0
	}
	return c.Length / c.ElemSize
}

// EndAddress returns Address+Length, the non-inclusive end of the chunk.
func (c BufferChunk) EndAddress() uintptr {
	return c.Address + uintptr(c.Length)
}

// AliasAddress returns the circular alias of Address, or 0 when the chunk's
// backing memory is not a circular allocation.
func (c BufferChunk) AliasAddress() uintptr {
	alias := c.shared.Alias()
	if alias == 0 {
		return 0
	}
	offset := alias - c.shared.Address()
	return c.Address + offset
}

// ManagedBuffer returns the inner ManagedBuffer reference, if any.
func (c BufferChunk) ManagedBuffer() ManagedBuffer {
	return c.managed
}

// SharedBuffer returns the inner SharedBuffer reference.
func (c BufferChunk) SharedBuffer() SharedBuffer {
	return c.shared
}

// Bytes returns the raw bytes this chunk addresses.
func (c BufferChunk) Bytes() []byte {
	if !c.shared.Valid() {
		return nil
	}
	full := c.shared.Bytes()
	base := c.shared.Address()
	off := c.Address - base
	if int(off)+c.Length > len(full) {
		return nil
	}
	return full[off : off+uintptr(c.Length)]
}

// Slice returns the sub-chunk [from,to) measured in elements, sharing the
// same underlying reference counts as c.
func (c BufferChunk) Slice(from, to int) BufferChunk {
	out := c
	out.Address = c.Address + uintptr(from*c.ElemSize)
	out.Length = (to - from) * c.ElemSize
	return out
}

// Unique reports whether this chunk's shared buffer has exactly one live
// reference (the chunk's own managed-buffer copy, if any, is excluded
// from the count per spec.md's useCount contract).
func (c BufferChunk) Unique() bool {
	return c.UseCount() == 1
}

// UseCount returns the number of live BufferChunk/SharedBuffer copies
// sharing this chunk's memory, excluding any copy held by the chunk's own
// ManagedBuffer.
func (c BufferChunk) UseCount() int {
	n := c.shared.UseCount()
	if c.managed.Valid() {
		n--
	}
	return n
}

// Valid reports whether c addresses any memory.
func (c BufferChunk) Valid() bool {
	return c.Address != 0 || c.shared.Valid()
}
