// Package message implements the opaque value protocol that messages,
// labels, and parameter arguments ride inside: a runtime-tagged Object with
// registry-backed compare/hash/serialize/deserialize hooks, plus the
// signal/slot dispatch blocks use to exchange asynchronous messages.
package message

import (
	"fmt"

	"github.com/flowmeshio/flowmesh/pkg/registry"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Object is the opaque, runtime-typed value carried by messages, labels,
// and parameter arguments. Its internal representation is a structpb.Value
// so that ints, floats, strings, bools, nulls, lists, and nested maps all
// convert automatically to and from wire form without a bespoke encoder per
// primitive type.
type Object struct {
	typeTag string
	val     *structpb.Value
}

// NewObject wraps v (any JSON-representable Go value) as an Object tagged
// with typeTag. typeTag is looked up in the registry for compare/hash/
// serialize hooks; an unregistered tag still works for the built-in JSON
// primitives, with every hook-based operation falling back to its
// structpb-based default.
func NewObject(typeTag string, v any) (Object, error) {
	val, err := structpb.NewValue(v)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", xerrors.ErrObjectConvert, err)
	}
	return Object{typeTag: typeTag, val: val}, nil
}

// Null returns the empty Object, used for signal-only emits that carry no
// payload.
func Null() Object {
	return Object{typeTag: "null", val: structpb.NewNullValue()}
}

// TypeTag returns the registry key for this value's hooks.
func (o Object) TypeTag() string {
	return o.typeTag
}

// Valid reports whether o carries an initialized value.
func (o Object) Valid() bool {
	return o.val != nil
}

// Interface returns the Go value (string, float64, bool, nil, []any, or
// map[string]any) this Object wraps.
func (o Object) Interface() any {
	if o.val == nil {
		return nil
	}
	return o.val.AsInterface()
}

// ToString formats o using the type tag's registered ToString hook if one
// is registered in table, otherwise falls back to the JSON-ish structpb
// rendering.
func (o Object) ToString(table *registry.Table) string {
	if table != nil {
		if hooks, err := table.Lookup(o.typeTag); err == nil && hooks.ToString != nil {
			return hooks.ToString(o.Interface())
		}
	}
	return fmt.Sprintf("%v", o.Interface())
}

// Compare orders a against b using the type tag's registered Compare hook.
// Falls back to structpb-level comparison (by AsInterface string form) when
// no hook, or the tags differ, is registered.
func Compare(table *registry.Table, a, b Object) (int, error) {
	if a.typeTag == b.typeTag && table != nil {
		if hooks, err := table.Lookup(a.typeTag); err == nil && hooks.Compare != nil {
			return hooks.Compare(a.Interface(), b.Interface())
		}
	}
	as, bs := fmt.Sprintf("%v", a.Interface()), fmt.Sprintf("%v", b.Interface())
	switch {
	case as < bs:
		return -1, nil
	case as > bs:
		return 1, nil
	default:
		return 0, nil
	}
}

// Serialize renders o to bytes using the type tag's registered Serialize
// hook, falling back to protobuf's JSON encoding of the structpb value when
// no hook is registered.
func Serialize(table *registry.Table, o Object) ([]byte, error) {
	if table != nil {
		if hooks, err := table.Lookup(o.typeTag); err == nil && hooks.Serialize != nil {
			return hooks.Serialize(o.Interface())
		}
	}
	return o.val.MarshalJSON()
}

// Deserialize is the inverse of Serialize for a given type tag.
func Deserialize(table *registry.Table, typeTag string, data []byte) (Object, error) {
	if table != nil {
		if hooks, err := table.Lookup(typeTag); err == nil && hooks.Deserialize != nil {
			v, err := hooks.Deserialize(data)
			if err != nil {
				return Object{}, fmt.Errorf("%w: %v", xerrors.ErrObjectConvert, err)
			}
			return NewObject(typeTag, v)
		}
	}
	val := &structpb.Value{}
	if err := val.UnmarshalJSON(data); err != nil {
		return Object{}, fmt.Errorf("%w: %v", xerrors.ErrObjectConvert, err)
	}
	return Object{typeTag: typeTag, val: val}, nil
}
