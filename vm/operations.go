package vm

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Truthiness and equality
// ---------------------------------------------------------------------------

// Truth reports the truth value of v. Values without a defined truth value
// (iterators) are false.
func Truth(v Value) bool {
	switch v := v.(type) {
	case Bool:
		return bool(v)
	case Int:
		return v != 0
	case Float:
		return v != 0
	case Str:
		return v != ""
	case List:
		return len(v) > 0
	case *Map:
		return v.Len() > 0
	default:
		return false
	}
}

// Equal reports structural equality. Ints and floats compare numerically.
func Equal(a, b Value) bool {
	switch a := a.(type) {
	case nil, None:
		switch b.(type) {
		case nil, None:
			return true
		}
		return false
	case Bool:
		b, ok := b.(Bool)
		return ok && a == b
	case Int:
		switch b := b.(type) {
		case Int:
			return a == b
		case Float:
			return Float(a) == b
		}
		return false
	case Float:
		switch b := b.(type) {
		case Int:
			return a == Float(b)
		case Float:
			return a == b
		}
		return false
	case Str:
		b, ok := b.(Str)
		return ok && a == b
	case List:
		b, ok := b.(List)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !Equal(a[i], b[i]) {
				return false
			}
		}
		return true
	case *Map:
		b, ok := b.(*Map)
		if !ok || a.Len() != b.Len() {
			return false
		}
		for _, k := range a.keys {
			bv, ok := b.items[k]
			if !ok || !Equal(a.items[k], bv) {
				return false
			}
		}
		return true
	case *Iter:
		return a == b
	}
	return false
}

// Compare orders two numbers or two strings. It returns -1, 0 or 1.
func Compare(op string, a, b Value) (int, error) {
	if x, y, ok := bothInts(a, b); ok {
		return cmpOrdered(x, y), nil
	}
	if x, y, ok := bothNumbers(a, b); ok {
		return cmpOrdered(x, y), nil
	}
	if x, ok := a.(Str); ok {
		if y, ok := b.(Str); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	}
	return 0, typeError(op, a, b)
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func bothInts(a, b Value) (int64, int64, bool) {
	x, ok1 := a.(Int)
	y, ok2 := b.(Int)
	return int64(x), int64(y), ok1 && ok2
}

func asFloat(v Value) (float64, bool) {
	switch v := v.(type) {
	case Int:
		return float64(v), true
	case Float:
		return float64(v), true
	}
	return 0, false
}

func bothNumbers(a, b Value) (float64, float64, bool) {
	x, ok1 := asFloat(a)
	y, ok2 := asFloat(b)
	return x, y, ok1 && ok2
}

// Add implements the + operator.
func Add(a, b Value) (Value, error) {
	if x, y, ok := bothInts(a, b); ok {
		return Int(x + y), nil
	}
	if x, y, ok := bothNumbers(a, b); ok {
		return Float(x + y), nil
	}
	switch a := a.(type) {
	case Str:
		if b, ok := b.(Str); ok {
			return a + b, nil
		}
	case List:
		if b, ok := b.(List); ok {
			out := make(List, 0, len(a)+len(b))
			out = append(out, a...)
			return append(out, b...), nil
		}
	}
	return nil, typeError("add", a, b)
}

// Sub implements the - operator.
func Sub(a, b Value) (Value, error) {
	if x, y, ok := bothInts(a, b); ok {
		return Int(x - y), nil
	}
	if x, y, ok := bothNumbers(a, b); ok {
		return Float(x - y), nil
	}
	return nil, typeError("sub", a, b)
}

// Mul implements the * operator, including sequence repetition.
func Mul(a, b Value) (Value, error) {
	if x, y, ok := bothInts(a, b); ok {
		return Int(x * y), nil
	}
	if x, y, ok := bothNumbers(a, b); ok {
		return Float(x * y), nil
	}
	if n, ok := b.(Int); ok {
		if r, ok, err := repeat(a, n); ok {
			return r, err
		}
	}
	if n, ok := a.(Int); ok {
		if r, ok, err := repeat(b, n); ok {
			return r, err
		}
	}
	return nil, typeError("mul", a, b)
}

// MaxRepeatLen bounds the length of a repeated string (in bytes) or list
// (in items).
const MaxRepeatLen = 1 << 28

func repeat(seq Value, n Int) (Value, bool, error) {
	if n < 0 {
		n = 0
	}
	var size int
	switch s := seq.(type) {
	case Str:
		size = len(s)
	case List:
		size = len(s)
	default:
		return nil, false, nil
	}
	if size > 0 && n > Int(MaxRepeatLen/size) {
		return nil, true, fmt.Errorf("%w: repeating a %s of length %d %d times exceeds %d", ErrBadArgument, TypeName(seq), size, int64(n), MaxRepeatLen)
	}

	switch s := seq.(type) {
	case Str:
		return Str(strings.Repeat(string(s), int(n))), true, nil
	case List:
		if size == 0 {
			return List{}, true, nil
		}
		out := make(List, 0, size*int(n))
		for i := Int(0); i < n; i++ {
			out = append(out, s...)
		}
		return out, true, nil
	}
	return nil, false, nil
}

// TrueDiv implements the / operator. The result is always a float.
func TrueDiv(a, b Value) (Value, error) {
	x, y, ok := bothNumbers(a, b)
	if !ok {
		return nil, typeError("truediv", a, b)
	}
	if y == 0 {
		return nil, ErrZeroDivision
	}
	return Float(x / y), nil
}

// FloorDiv implements the // operator with floor rounding.
func FloorDiv(a, b Value) (Value, error) {
	if x, y, ok := bothInts(a, b); ok {
		if y == 0 {
			return nil, ErrZeroDivision
		}
		q := x / y
		if (x%y != 0) && ((x < 0) != (y < 0)) {
			q--
		}
		return Int(q), nil
	}
	if x, y, ok := bothNumbers(a, b); ok {
		if y == 0 {
			return nil, ErrZeroDivision
		}
		return Float(math.Floor(x / y)), nil
	}
	return nil, typeError("floordiv", a, b)
}

// Mod implements the % operator. The result takes the sign of the divisor.
func Mod(a, b Value) (Value, error) {
	if x, y, ok := bothInts(a, b); ok {
		if y == 0 {
			return nil, ErrZeroDivision
		}
		r := x % y
		if r != 0 && ((r < 0) != (y < 0)) {
			r += y
		}
		return Int(r), nil
	}
	if x, y, ok := bothNumbers(a, b); ok {
		if y == 0 {
			return nil, ErrZeroDivision
		}
		r := math.Mod(x, y)
		if r != 0 && ((r < 0) != (y < 0)) {
			r += y
		}
		return Float(r), nil
	}
	return nil, typeError("mod", a, b)
}

// Neg implements unary minus.
func Neg(a Value) (Value, error) {
	switch a := a.(type) {
	case Int:
		return -a, nil
	case Float:
		return -a, nil
	}
	return nil, typeError("neg", a)
}

// ---------------------------------------------------------------------------
// Containment, indexing and slicing
// ---------------------------------------------------------------------------

// Contains implements "item in container".
func Contains(item, container Value) (bool, error) {
	switch c := container.(type) {
	case Str:
		if s, ok := item.(Str); ok {
			return strings.Contains(string(c), string(s)), nil
		}
	case List:
		for _, v := range c {
			if Equal(item, v) {
				return true, nil
			}
		}
		return false, nil
	case *Map:
		if s, ok := item.(Str); ok {
			return c.Has(string(s)), nil
		}
	}
	return false, typeError("contains", item, container)
}

// normIndex applies negative wraparound and bounds checks.
func normIndex(i Int, n int) (int, error) {
	idx := int(i)
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, ErrIndexOutOfRange
	}
	return idx, nil
}

// GetItem implements obj[index]. Missing dict keys yield None.
func GetItem(obj, index Value) (Value, error) {
	switch o := obj.(type) {
	case Str:
		if i, ok := index.(Int); ok {
			runes := []rune(string(o))
			idx, err := normIndex(i, len(runes))
			if err != nil {
				return nil, err
			}
			return Str(runes[idx]), nil
		}
	case List:
		if i, ok := index.(Int); ok {
			idx, err := normIndex(i, len(o))
			if err != nil {
				return nil, err
			}
			return o[idx], nil
		}
	case *Map:
		if k, ok := index.(Str); ok {
			if v, ok := o.Get(string(k)); ok {
				return v, nil
			}
			return Nil, nil
		}
	}
	return nil, typeError("getitem", obj, index)
}

// GetAttr implements obj.name, which is only defined for dicts.
func GetAttr(obj Value, name string) (Value, error) {
	if m, ok := obj.(*Map); ok {
		if v, ok := m.Get(name); ok {
			return v, nil
		}
		return Nil, nil
	}
	return nil, typeError("getattr", obj)
}

// clampSlice resolves optional bounds against a sequence of length n.
// Out-of-range bounds are clamped instead of failing.
func clampSlice(start, stop Value, n int) (int, int, error) {
	lo, err := clampBound(start, 0, n)
	if err != nil {
		return 0, 0, err
	}
	hi, err := clampBound(stop, n, n)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

func clampBound(bound Value, def, n int) (int, error) {
	switch b := bound.(type) {
	case nil, None:
		return def, nil
	case Int:
		pos := int(b)
		if pos < 0 {
			pos += n
		}
		if pos < 0 {
			pos = 0
		} else if pos > n {
			pos = n
		}
		return pos, nil
	}
	return 0, typeError("getslice", bound)
}

// GetSlice implements obj[start:stop]. A nil or None bound is open.
func GetSlice(obj, start, stop Value) (Value, error) {
	switch o := obj.(type) {
	case Str:
		runes := []rune(string(o))
		lo, hi, err := clampSlice(start, stop, len(runes))
		if err != nil {
			return nil, err
		}
		return Str(runes[lo:hi]), nil
	case List:
		lo, hi, err := clampSlice(start, stop, len(o))
		if err != nil {
			return nil, err
		}
		out := make(List, hi-lo)
		copy(out, o[lo:hi])
		return out, nil
	}
	if start == nil {
		start = Nil
	}
	if stop == nil {
		stop = Nil
	}
	return nil, typeError("getslice", obj, start, stop)
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// Iterate returns a lazy iterator over a container: characters of a
// string, elements of a list, keys of a dict, or an iterator itself.
func Iterate(v Value) (*Iter, error) {
	switch v := v.(type) {
	case Str:
		s := string(v)
		return NewIter(func() (Value, bool) {
			if s == "" {
				return nil, false
			}
			r, size := utf8.DecodeRuneInString(s)
			s = s[size:]
			return Str(r), true
		}), nil
	case List:
		return sliceIter(v), nil
	case *Map:
		keys := make([]Value, len(v.keys))
		for i, k := range v.keys {
			keys[i] = Str(k)
		}
		return sliceIter(keys), nil
	case *Iter:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotIterable, TypeName(v))
}
