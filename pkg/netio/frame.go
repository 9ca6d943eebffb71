// Package netio implements the network-sink/network-source pair that a
// topology commit inserts at every process-boundary flow: a framed TCP wire
// protocol carrying buffers, labels, and messages, bound on one side and
// connected on the other per spec.md §6's wire protocol.
package netio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// FrameType is the 2-byte type tag at the head of every wire frame.
type FrameType uint16

const (
	FrameBuffer  FrameType = 0
	FrameLabel   FrameType = 1
	FrameMessage FrameType = 2
)

// Frame is one unit of the wire protocol: a type tag, an 8-byte stream
// index (a per-connection frame counter the sending Sink increments for
// every frame it writes; the receiving Source does not read it), and a
// payload whose interpretation depends on Type.
type Frame struct {
	Type        FrameType
	StreamIndex uint64
	Payload     []byte
}

// headerSize is type(2) + streamIndex(8) + length(4).
const headerSize = 2 + 8 + 4

// WriteFrame writes f to w as [type:2][streamIndex:8][len:4][payload].
// The length prefix is this rewrite's framing detail: spec.md's wire
// protocol fixes the first two fields but leaves payload delimiting to the
// implementation, since the source runs over a message-oriented transport
// (UDT) where the payload boundary is implicit.
func WriteFrame(w io.Writer, f Frame) error {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(f.Type))
	binary.BigEndian.PutUint64(hdr[2:10], f.StreamIndex)
	binary.BigEndian.PutUint32(hdr[10:14], uint32(len(f.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("netio: write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("netio: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r, blocking until the full frame arrives.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{
		Type:        FrameType(binary.BigEndian.Uint16(hdr[0:2])),
		StreamIndex: binary.BigEndian.Uint64(hdr[2:10]),
	}
	n := binary.BigEndian.Uint32(hdr[10:14])
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("%w: short frame payload: %v", xerrors.ErrDataFormatError, err)
		}
	}
	switch f.Type {
	case FrameBuffer, FrameLabel, FrameMessage:
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame type %d", xerrors.ErrDataFormatError, f.Type)
	}
	return f, nil
}
