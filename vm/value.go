package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: the closed set of runtime values
// ---------------------------------------------------------------------------

// Value is a dynamically typed runtime value. The set of implementations is
// closed: None, Bool, Int, Float, Str, List, *Map and *Iter.
type Value interface {
	value() // marker method
}

// None is the absent value.
type None struct{}

// Bool is a boolean value.
type Bool bool

// Int is a 64-bit signed integer value.
type Int int64

// Float is a double precision floating point value.
type Float float64

// Str is a Unicode string value.
type Str string

// List is an ordered sequence of values.
type List []Value

func (None) value()  {}
func (Bool) value()  {}
func (Int) value()   {}
func (Float) value() {}
func (Str) value()   {}
func (List) value()  {}
func (*Map) value()  {}
func (*Iter) value() {}

// Nil is the canonical None value.
var Nil Value = None{}

// TypeName returns the name used for v's type in error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, None:
		return "none"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Str:
		return "str"
	case List:
		return "list"
	case *Map:
		return "dict"
	case *Iter:
		return "iterator"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ---------------------------------------------------------------------------
// Map: insertion-ordered string-keyed dictionary
// ---------------------------------------------------------------------------

// Map is a dictionary with string keys that remembers insertion order.
type Map struct {
	keys  []string
	items map[string]Value
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{items: make(map[string]Value)}
}

// MapOf builds a map from alternating key/value arguments.
// It panics if a key is not a string; it is meant for tests and literals.
func MapOf(pairs ...any) *Map {
	m := NewMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i].(string), pairs[i+1].(Value))
	}
	return m
}

// Set binds key to v, keeping the original position of an existing key.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.items[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.items[key] = v
}

// Get returns the value bound to key.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.items[key]
	return v, ok
}

// Has reports whether key is bound.
func (m *Map) Has(key string) bool {
	_, ok := m.items[key]
	return ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (m *Map) Keys() []string {
	return m.keys
}

// ---------------------------------------------------------------------------
// Iter: one-shot lazy sequence
// ---------------------------------------------------------------------------

// Iter is a lazily produced sequence of values. It can be consumed once.
type Iter struct {
	next func() (Value, bool)
}

// NewIter wraps a generator function. The function returns false once the
// sequence is exhausted and must keep returning false afterwards.
func NewIter(next func() (Value, bool)) *Iter {
	return &Iter{next: next}
}

// Next returns the next element of the sequence.
func (it *Iter) Next() (Value, bool) {
	if it.next == nil {
		return nil, false
	}
	v, ok := it.next()
	if !ok {
		it.next = nil
	}
	return v, ok
}

// sliceIter iterates over a fixed slice of values.
func sliceIter(items []Value) *Iter {
	i := 0
	return NewIter(func() (Value, bool) {
		if i >= len(items) {
			return nil, false
		}
		v := items[i]
		i++
		return v, true
	})
}

// drain materializes the remaining elements of an iterator.
func drain(it *Iter) List {
	var out List
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		out = append(out, v)
	}
	return out
}

// ---------------------------------------------------------------------------
// Conversion to text
// ---------------------------------------------------------------------------

// ToString converts v to the text emitted by a print tag.
func ToString(v Value) string {
	switch v := v.(type) {
	case nil, None:
		return ""
	case Str:
		return string(v)
	default:
		return Repr(v)
	}
}

// Repr returns a Python-like literal representation of v.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v)
	return b.String()
}

func writeRepr(b *strings.Builder, v Value) {
	switch v := v.(type) {
	case nil, None:
		b.WriteString("None")
	case Bool:
		if v {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case Int:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case Float:
		b.WriteString(formatFloat(float64(v)))
	case Str:
		writeQuoted(b, string(v))
	case List:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, item)
		}
		b.WriteByte(']')
	case *Map:
		b.WriteByte('{')
		for i, key := range v.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeQuoted(b, key)
			b.WriteString(": ")
			writeRepr(b, v.items[key])
		}
		b.WriteByte('}')
	case *Iter:
		b.WriteString("<iterator>")
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func writeQuoted(b *strings.Builder, s string) {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
}

// ---------------------------------------------------------------------------
// Conversion from Go values
// ---------------------------------------------------------------------------

// FromGo converts plain Go data (as produced by decoders) into a Value.
// Maps with non-string keys have their keys converted with fmt; maps other
// than *Map are ordered by key.
func FromGo(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Nil, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(x), nil
	case uint8:
		return Int(x), nil
	case uint16:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%w: integer %d overflows int", ErrBadArgument, x)
		}
		return Int(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case string:
		return Str(x), nil
	case []byte:
		return Str(x), nil
	case []any:
		out := make(List, len(x))
		for i, item := range x {
			v, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case []string:
		out := make(List, len(x))
		for i, s := range x {
			out[i] = Str(s)
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			v, err := FromGo(x[k])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	case map[any]any:
		conv := make(map[string]any, len(x))
		for k, v := range x {
			conv[fmt.Sprint(k)] = v
		}
		return FromGo(conv)
	default:
		return nil, fmt.Errorf("%w: cannot convert %T", ErrBadArgument, x)
	}
}
