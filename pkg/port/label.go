package port

import "github.com/flowmeshio/flowmesh/pkg/message"

// Label is an in-band annotation tied to a byte index within a stream.
// Index is always expressed in bytes at the port boundary; callers posting
// a label with an element-relative index must multiply by elem_size first
// (see OutputPort.PostLabel).
type Label struct {
	Index int
	ID    string
	Value message.Object
	Width int
}

// adjustedIndex rescales l for a downstream port whose element size differs
// from the upstream's, implementing the default 1-to-1 element-count rate
// propagate_labels uses: index' = index * inElemSize / outElemSize.
func (l Label) adjustedIndex(inElemSize, outElemSize int) int {
	if inElemSize == outElemSize || inElemSize == 0 {
		return l.Index
	}
	return l.Index * inElemSize / outElemSize
}
