package netio

import (
	"encoding/binary"
	"fmt"

	"github.com/flowmeshio/flowmesh/pkg/message"
	"github.com/flowmeshio/flowmesh/pkg/registry"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// encodeLabel packs a label's identity and opaque value into a Label
// frame's payload:
// [idLen:2][id][index:4][width:4][typeTagLen:2][typeTag][value].
func encodeLabel(id string, index, width int, typeTag string, value []byte) []byte {
	buf := make([]byte, 2+len(id)+4+4+2+len(typeTag)+len(value))
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(len(id)))
	off += 2
	off += copy(buf[off:], id)
	binary.BigEndian.PutUint32(buf[off:], uint32(index))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(width))
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(typeTag)))
	off += 2
	off += copy(buf[off:], typeTag)
	copy(buf[off:], value)
	return buf
}

type decodedLabel struct {
	ID      string
	Index   int
	Width   int
	TypeTag string
	Value   []byte
}

func decodeLabel(payload []byte) (decodedLabel, error) {
	if len(payload) < 2 {
		return decodedLabel{}, fmt.Errorf("%w: short label frame", xerrors.ErrDataFormatError)
	}
	idLen := int(binary.BigEndian.Uint16(payload[0:2]))
	off := 2
	if off+idLen+4+4+2 > len(payload) {
		return decodedLabel{}, fmt.Errorf("%w: short label frame", xerrors.ErrDataFormatError)
	}
	id := string(payload[off : off+idLen])
	off += idLen
	index := int(binary.BigEndian.Uint32(payload[off:]))
	off += 4
	width := int(binary.BigEndian.Uint32(payload[off:]))
	off += 4
	tagLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if off+tagLen > len(payload) {
		return decodedLabel{}, fmt.Errorf("%w: short label frame", xerrors.ErrDataFormatError)
	}
	tag := string(payload[off : off+tagLen])
	off += tagLen
	return decodedLabel{ID: id, Index: index, Width: width, TypeTag: tag, Value: payload[off:]}, nil
}

// encodeMessage packs an opaque value's type tag alongside its serialized
// form: [typeTagLen:2][typeTag][value].
func encodeMessage(typeTag string, value []byte) []byte {
	buf := make([]byte, 2+len(typeTag)+len(value))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(typeTag)))
	off := 2 + copy(buf[2:], typeTag)
	copy(buf[off:], value)
	return buf
}

func decodeMessage(table *registry.Table, payload []byte) (message.Object, error) {
	if len(payload) < 2 {
		return message.Object{}, fmt.Errorf("%w: short message frame", xerrors.ErrDataFormatError)
	}
	tagLen := int(binary.BigEndian.Uint16(payload[0:2]))
	if 2+tagLen > len(payload) {
		return message.Object{}, fmt.Errorf("%w: short message frame", xerrors.ErrDataFormatError)
	}
	tag := string(payload[2 : 2+tagLen])
	return message.Deserialize(table, tag, payload[2+tagLen:])
}
