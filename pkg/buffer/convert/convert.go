// Package convert implements BufferChunk element-type conversions: C-style
// numeric casts between real types, independent real/imag casts for
// complex-to-complex conversion, and Q-format fixed-point scaling.
package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flowmeshio/flowmesh/pkg/buffer"
	"github.com/flowmeshio/flowmesh/pkg/metrics"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// ElemKind identifies the primitive shape a BufferChunk element tag maps
// to. Dispatch for convert/convertComplex is keyed on the input chunk's
// ElemType string via this table, mirroring the source's elemType-keyed
// conversion function map.
type ElemKind int

const (
	Int8 ElemKind = iota
	Int16
	Int32
	Int64
	Float32
	Float64
)

var kindNames = map[string]ElemKind{
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"float32": Float32,
	"float64": Float64,
}

func kindOf(tag string) (ElemKind, int, error) {
	k, ok := kindNames[tag]
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown element type tag %q", xerrors.ErrBufferConvert, tag)
	}
	switch k {
	case Int8:
		return k, 1, nil
	case Int16:
		return k, 2, nil
	case Int32, Float32:
		return k, 4, nil
	case Int64, Float64:
		return k, 8, nil
	}
	return k, 0, fmt.Errorf("%w: unreachable element type tag %q", xerrors.ErrBufferConvert, tag)
}

func readFloat(kind ElemKind, raw []byte) float64 {
	switch kind {
	case Int8:
		return float64(int8(raw[0]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(raw)))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(raw)))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(raw)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw))
	}
	return 0
}

func writeFloat(kind ElemKind, v float64, out []byte) {
	switch kind {
	case Int8:
		out[0] = byte(int8(v))
	case Int16:
		binary.LittleEndian.PutUint16(out, uint16(int16(v)))
	case Int32:
		binary.LittleEndian.PutUint32(out, uint32(int32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(out, uint64(int64(v)))
	case Float32:
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	}
}

// Convert returns a fresh BufferChunk of outType carrying numElems produced
// values, truncating or casting each element the way a C-style numeric cast
// would. ElemType pairs not present in kindNames fail with
// xerrors.ErrBufferConvert, matching the source's "cant convert from"
// BufferConvertError.
func Convert(in buffer.BufferChunk, outType string, numElems int) (buffer.BufferChunk, error) {
	inKind, inSize, err := kindOf(in.ElemType)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, err
	}
	outKind, outSize, err := kindOf(outType)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, err
	}

	avail := in.Length / inSize
	if numElems > avail {
		numElems = avail
	}

	out, err := buffer.Make(numElems*outSize, -1)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, fmt.Errorf("%w: %v", xerrors.ErrBufferConvert, err)
	}
	outMem := out.Bytes()
	inMem := in.Bytes()

	for i := 0; i < numElems; i++ {
		v := readFloat(inKind, inMem[i*inSize:(i+1)*inSize])
		writeFloat(outKind, v, outMem[i*outSize:(i+1)*outSize])
	}

	return buffer.NewBufferChunk(out, outSize, outType), nil
}

// ConvertComplex splits an interleaved complex input chunk into independent
// real and imaginary BufferChunks of outType, each converted with the same
// per-element cast Convert uses.
func ConvertComplex(in buffer.BufferChunk, outType string, numElems int) (real, imag buffer.BufferChunk, err error) {
	inKind, inSize, err := kindOf(in.ElemType)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, buffer.BufferChunk{}, err
	}
	outKind, outSize, err := kindOf(outType)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, buffer.BufferChunk{}, err
	}

	// complex input is interleaved (re,im,re,im,...) of the primitive type
	avail := in.Length / (2 * inSize)
	if numElems > avail {
		numElems = avail
	}

	reBuf, err := buffer.Make(numElems*outSize, -1)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, buffer.BufferChunk{}, fmt.Errorf("%w: %v", xerrors.ErrBufferConvert, err)
	}
	imBuf, err := buffer.Make(numElems*outSize, -1)
	if err != nil {
		metrics.BufferConvertErrorsTotal.Inc()
		return buffer.BufferChunk{}, buffer.BufferChunk{}, fmt.Errorf("%w: %v", xerrors.ErrBufferConvert, err)
	}

	inMem := in.Bytes()
	reMem, imMem := reBuf.Bytes(), imBuf.Bytes()
	for i := 0; i < numElems; i++ {
		reV := readFloat(inKind, inMem[(2*i)*inSize:(2*i+1)*inSize])
		imV := readFloat(inKind, inMem[(2*i+1)*inSize:(2*i+2)*inSize])
		writeFloat(outKind, reV, reMem[i*outSize:(i+1)*outSize])
		writeFloat(outKind, imV, imMem[i*outSize:(i+1)*outSize])
	}

	return buffer.NewBufferChunk(reBuf, outSize, outType), buffer.NewBufferChunk(imBuf, outSize, outType), nil
}

// FromQ converts a Q-format fixed point sample to floating point by
// right-shifting by n fractional bits; floating point inputs pass through
// unchanged. n defaults to half the input element's bit width when the
// caller has no format-specific value (mirrors the source's default
// overload of fromQ).
func FromQ(raw int64, inKind ElemKind, n int) float64 {
	switch inKind {
	case Float32, Float64:
		return math.Float64frombits(uint64(raw))
	default:
		return math.Ldexp(float64(raw), -n)
	}
}

// ToQ converts a floating point sample into Q-format fixed point by
// left-shifting (ldexp) by n fractional bits; fixed point outputs are
// produced this way, floating point outputs pass the value through.
func ToQ(v float64, outKind ElemKind, n int) int64 {
	switch outKind {
	case Float32, Float64:
		return int64(math.Float64bits(v))
	default:
		return int64(math.Ldexp(v, n))
	}
}

// DefaultFractionalBits returns half the bit width of kind, the default n
// used by FromQ/ToQ when the caller does not specify one explicitly.
func DefaultFractionalBits(kind ElemKind) int {
	switch kind {
	case Int8:
		return 4
	case Int16:
		return 8
	case Int32, Float32:
		return 16
	case Int64, Float64:
		return 32
	}
	return 0
}
