package port

import "github.com/flowmeshio/flowmesh/pkg/buffer"

// accumulator holds the FIFO of BufferChunks an InputPort has received from
// upstream, and coalesces runs of contiguous same-type chunks into one
// logical buffer the way spec.md's elements()/buffer() contract requires.
type accumulator struct {
	chunks []buffer.BufferChunk
}

// elements returns the number of logical elements available at the front,
// counting through as many leading chunks as remain byte-contiguous with
// the same element type.
func (a *accumulator) elements() int {
	total := 0
	for i, c := range a.chunks {
		if i > 0 {
			prev := a.chunks[i-1]
			if c.ElemType != prev.ElemType || c.Address != prev.EndAddress() {
				break
			}
		}
		total += c.Elements()
	}
	return total
}

// buffer returns a BufferChunk view over the contiguous front run. When
// more than one chunk coalesces, the view is built over the first chunk's
// address with the combined length (the underlying memory is guaranteed
// contiguous by the coalescing check in elements()).
func (a *accumulator) buffer() buffer.BufferChunk {
	if len(a.chunks) == 0 {
		return buffer.BufferChunk{}
	}
	head := a.chunks[0]
	n := a.elements()
	head.Length = n * head.ElemSize
	return head
}

// push appends a newly arrived chunk to the back of the FIFO.
func (a *accumulator) push(c buffer.BufferChunk) {
	a.chunks = append(a.chunks, c)
}

// consume advances the front by n elements, releasing any chunk that
// becomes fully consumed (which drops its ManagedBuffer's last reference
// and triggers the upstream external-return path if this was the final
// copy).
func (a *accumulator) consume(n int) {
	for n > 0 && len(a.chunks) > 0 {
		head := &a.chunks[0]
		avail := head.Elements()
		if n < avail {
			*head = head.Slice(n, avail)
			return
		}
		n -= avail
		head.ManagedBuffer().Release()
		a.chunks = a.chunks[1:]
	}
}

func (a *accumulator) empty() bool {
	return len(a.chunks) == 0
}
