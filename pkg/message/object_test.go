package message

import (
	"strings"
	"testing"

	"github.com/flowmeshio/flowmesh/pkg/registry"
)

func TestObjectInterfaceRoundTrip(t *testing.T) {
	obj, err := NewObject("int", float64(42))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if !obj.Valid() {
		t.Fatal("expected object to be valid")
	}
	if got := obj.Interface(); got != float64(42) {
		t.Fatalf("Interface() = %v, want 42", got)
	}
}

func TestNullObject(t *testing.T) {
	n := Null()
	if !n.Valid() {
		t.Fatal("Null() should be valid (carries a null structpb value)")
	}
	if n.Interface() != nil {
		t.Fatalf("Null().Interface() = %v, want nil", n.Interface())
	}
}

func TestCompareFallsBackToStringOrdering(t *testing.T) {
	a, _ := NewObject("str", "apple")
	b, _ := NewObject("str", "banana")
	got, err := Compare(nil, a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got >= 0 {
		t.Fatalf("Compare(apple, banana) = %d, want negative", got)
	}
}

func TestCompareUsesRegisteredHook(t *testing.T) {
	table := registry.NewTable()
	table.Register("reversed", registry.Hooks{
		Compare: func(a, b any) (int, error) {
			// Deliberately inverted so the test can distinguish the hook
			// firing from the string-fallback path.
			as, bs := a.(string), b.(string)
			switch {
			case as < bs:
				return 1, nil
			case as > bs:
				return -1, nil
			default:
				return 0, nil
			}
		},
	})

	a, _ := NewObject("reversed", "apple")
	b, _ := NewObject("reversed", "banana")
	got, err := Compare(table, a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got <= 0 {
		t.Fatalf("Compare with inverted hook = %d, want positive", got)
	}
}

func TestSerializeDeserializeRoundTripWithoutHooks(t *testing.T) {
	obj, err := NewObject("str", "hello")
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	data, err := Serialize(nil, obj)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	back, err := Deserialize(nil, "str", data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if back.Interface() != "hello" {
		t.Fatalf("round-tripped value = %v, want hello", back.Interface())
	}
}

func TestSerializeDeserializeWithRegisteredHooks(t *testing.T) {
	table := registry.NewTable()
	table.Register("upper", registry.Hooks{
		Serialize: func(v any) ([]byte, error) {
			return []byte(strings.ToUpper(v.(string))), nil
		},
		Deserialize: func(data []byte) (any, error) {
			return string(data), nil
		},
	})

	obj, _ := NewObject("upper", "hi")
	data, err := Serialize(table, obj)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if string(data) != "HI" {
		t.Fatalf("Serialize via hook = %q, want HI", data)
	}

	back, err := Deserialize(table, "upper", data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if back.Interface() != "HI" {
		t.Fatalf("Deserialize via hook = %v, want HI", back.Interface())
	}
}

func TestToStringFallback(t *testing.T) {
	obj, _ := NewObject("int", float64(7))
	if got := obj.ToString(nil); got != "7" {
		t.Fatalf("ToString fallback = %q, want 7", got)
	}
}
