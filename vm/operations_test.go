package vm

import (
	"errors"
	"math"
	"testing"
)

func TestTruth(t *testing.T) {
	truthy := []Value{Bool(true), Int(-1), Float(0.5), Str("x"), List{Nil}, MapOf("a", Nil)}
	falsy := []Value{Nil, Bool(false), Int(0), Float(0), Str(""), List{}, NewMap(), sliceIter(List{Int(1)})}
	for _, v := range truthy {
		if !Truth(v) {
			t.Errorf("Truth(%s) = false", Repr(v))
		}
	}
	for _, v := range falsy {
		if Truth(v) {
			t.Errorf("Truth(%s) = true", Repr(v))
		}
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{Int(1), Float(1), true},
		{Float(2.5), Float(2.5), true},
		{Bool(true), Int(1), false},
		{Nil, Nil, true},
		{Nil, Str(""), false},
		{Str("a"), Str("a"), true},
		{List{Int(1), List{Str("x")}}, List{Float(1), List{Str("x")}}, true},
		{List{Int(1)}, List{Int(1), Int(2)}, false},
		{MapOf("a", Int(1), "b", Int(2)), MapOf("b", Int(2), "a", Int(1)), true},
		{MapOf("a", Int(1)), MapOf("a", Int(2)), false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%s, %s) = %v, want %v", Repr(tt.a), Repr(tt.b), got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	if c, err := Compare("lt", Int(1), Float(1.5)); err != nil || c != -1 {
		t.Errorf("Compare(1, 1.5) = %d, %v", c, err)
	}
	if c, err := Compare("lt", Str("b"), Str("a")); err != nil || c != 1 {
		t.Errorf("Compare('b', 'a') = %d, %v", c, err)
	}
	_, err := Compare("lt", Int(1), Str("a"))
	var te *TypeError
	if !errors.As(err, &te) || te.Op != "lt" || len(te.Types) != 2 || te.Types[1] != "str" {
		t.Errorf("Compare(1, 'a') error = %v", err)
	}
	if !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("TypeError should wrap ErrUnsupportedOperand")
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		fn   func(a, b Value) (Value, error)
		a, b Value
		want string
	}{
		{"add ints", Add, Int(2), Int(3), "5"},
		{"add mixed", Add, Int(2), Float(0.5), "2.5"},
		{"add strs", Add, Str("a"), Str("b"), "'ab'"},
		{"add lists", Add, List{Int(1)}, List{Int(2)}, "[1, 2]"},
		{"sub", Sub, Int(2), Int(5), "-3"},
		{"mul floats", Mul, Float(1.5), Int(2), "3.0"},
		{"mul str", Mul, Str("ab"), Int(2), "'abab'"},
		{"mul int str", Mul, Int(3), Str("x"), "'xxx'"},
		{"mul list", Mul, List{Int(0)}, Int(2), "[0, 0]"},
		{"mul negative", Mul, Str("x"), Int(-1), "''"},
		{"truediv", TrueDiv, Int(7), Int(2), "3.5"},
		{"floordiv", FloorDiv, Int(7), Int(2), "3"},
		{"floordiv negative", FloorDiv, Int(-7), Int(2), "-4"},
		{"floordiv divisor negative", FloorDiv, Int(7), Int(-2), "-4"},
		{"floordiv float", FloorDiv, Float(7.5), Int(2), "3.0"},
		{"mod", Mod, Int(7), Int(3), "1"},
		{"mod negative dividend", Mod, Int(-7), Int(3), "2"},
		{"mod negative divisor", Mod, Int(7), Int(-3), "-2"},
		{"mod float", Mod, Float(-1.5), Int(1), "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.a, tt.b)
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if Repr(got) != tt.want {
				t.Errorf("got %s, want %s", Repr(got), tt.want)
			}
		})
	}
}

func TestArithmeticErrors(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(a, b Value) (Value, error)
		a, b   Value
		target error
	}{
		{"add str int", Add, Str("a"), Int(1), ErrUnsupportedOperand},
		{"sub strs", Sub, Str("a"), Str("b"), ErrUnsupportedOperand},
		{"mul strs", Mul, Str("a"), Str("b"), ErrUnsupportedOperand},
		{"truediv zero", TrueDiv, Int(1), Float(0), ErrZeroDivision},
		{"floordiv zero", FloorDiv, Int(1), Int(0), ErrZeroDivision},
		{"mod zero", Mod, Float(1), Int(0), ErrZeroDivision},
		{"mod none", Mod, Nil, Int(1), ErrUnsupportedOperand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fn(tt.a, tt.b); !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestMulRepeatLimit(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
	}{
		{"str", Str("ab"), Int(math.MaxInt64)},
		{"str int first", Int(MaxRepeatLen), Str("xy")},
		{"list", List{Int(1), Int(2), Int(3)}, Int(1 << 62)},
		{"list just over", Int(MaxRepeatLen/2 + 1), List{Nil, Nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Mul(tt.a, tt.b); !errors.Is(err, ErrBadArgument) {
				t.Errorf("error = %v, want ErrBadArgument", err)
			}
		})
	}

	if v, err := Mul(Str(""), Int(math.MaxInt64)); err != nil || v != Str("") {
		t.Errorf("empty string repeat = %v, %v", v, err)
	}
	if v, err := Mul(List{}, Int(math.MaxInt64)); err != nil || Repr(v) != "[]" {
		t.Errorf("empty list repeat = %v, %v", v, err)
	}
}

func TestNeg(t *testing.T) {
	if v, err := Neg(Float(1.5)); err != nil || v != Float(-1.5) {
		t.Errorf("Neg(1.5) = %v, %v", v, err)
	}
	if _, err := Neg(Str("x")); !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("Neg('x') error = %v", err)
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		item, container Value
		want            bool
	}{
		{Str("bc"), Str("abcd"), true},
		{Str("x"), Str("abcd"), false},
		{Float(2), List{Int(1), Int(2)}, true},
		{Str("k"), MapOf("k", Nil), true},
		{Str("z"), MapOf("k", Nil), false},
	}
	for _, tt := range tests {
		got, err := Contains(tt.item, tt.container)
		if err != nil || got != tt.want {
			t.Errorf("Contains(%s, %s) = %v, %v", Repr(tt.item), Repr(tt.container), got, err)
		}
	}
	if _, err := Contains(Int(1), Str("1")); !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("int in str error = %v", err)
	}
}

func TestGetItem(t *testing.T) {
	l := List{Str("a"), Str("b"), Str("c")}
	tests := []struct {
		obj, index Value
		want       string
	}{
		{l, Int(0), "'a'"},
		{l, Int(-1), "'c'"},
		{Str("héllo"), Int(1), "'é'"},
		{MapOf("k", Int(1)), Str("k"), "1"},
		{MapOf("k", Int(1)), Str("missing"), "None"},
	}
	for _, tt := range tests {
		got, err := GetItem(tt.obj, tt.index)
		if err != nil || Repr(got) != tt.want {
			t.Errorf("GetItem(%s, %s) = %s, %v; want %s", Repr(tt.obj), Repr(tt.index), Repr(got), err, tt.want)
		}
	}

	if _, err := GetItem(l, Int(3)); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("l[3] error = %v", err)
	}
	if _, err := GetItem(l, Int(-4)); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("l[-4] error = %v", err)
	}
	if _, err := GetItem(l, Str("x")); !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("l['x'] error = %v", err)
	}
}

func TestGetAttr(t *testing.T) {
	m := MapOf("name", Str("x"))
	if v, err := GetAttr(m, "name"); err != nil || v != Str("x") {
		t.Errorf("m.name = %v, %v", v, err)
	}
	if v, err := GetAttr(m, "other"); err != nil || v != Nil {
		t.Errorf("m.other = %v, %v", v, err)
	}
	if _, err := GetAttr(Str("s"), "upper"); !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("str attribute error = %v", err)
	}
}

func TestGetSlice(t *testing.T) {
	l := List{Int(0), Int(1), Int(2), Int(3)}
	tests := []struct {
		obj         Value
		start, stop Value
		want        string
	}{
		{l, Int(1), Int(3), "[1, 2]"},
		{l, nil, Int(2), "[0, 1]"},
		{l, Int(-2), nil, "[2, 3]"},
		{l, nil, nil, "[0, 1, 2, 3]"},
		{l, Int(-100), Int(100), "[0, 1, 2, 3]"},
		{l, Int(3), Int(1), "[]"},
		{Str("héllo"), Int(1), Int(3), "'él'"},
		{Str("abc"), Nil, Int(-1), "'ab'"},
	}
	for _, tt := range tests {
		got, err := GetSlice(tt.obj, tt.start, tt.stop)
		if err != nil || Repr(got) != tt.want {
			t.Errorf("GetSlice(%s, %v, %v) = %s, %v; want %s", Repr(tt.obj), tt.start, tt.stop, Repr(got), err, tt.want)
		}
	}

	if _, err := GetSlice(Int(1), nil, nil); !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("int slice error = %v", err)
	}
	if _, err := GetSlice(l, Str("a"), nil); !errors.Is(err, ErrUnsupportedOperand) {
		t.Errorf("str bound error = %v", err)
	}
}

func TestGetSliceCopies(t *testing.T) {
	l := List{Int(0), Int(1)}
	got, _ := GetSlice(l, nil, nil)
	got.(List)[0] = Int(9)
	if l[0] != Int(0) {
		t.Error("slice shares storage with the original list")
	}
}

func TestIterate(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Str("hé"), "['h', 'é']"},
		{List{Int(1)}, "[1]"},
		{MapOf("b", Nil, "a", Nil), "['b', 'a']"},
	}
	for _, tt := range tests {
		it, err := Iterate(tt.v)
		if err != nil {
			t.Fatalf("Iterate(%s): %v", Repr(tt.v), err)
		}
		if got := Repr(drain(it)); got != tt.want {
			t.Errorf("Iterate(%s) = %s, want %s", Repr(tt.v), got, tt.want)
		}
	}
	for _, v := range []Value{Nil, Int(1), Bool(true)} {
		if _, err := Iterate(v); !errors.Is(err, ErrNotIterable) {
			t.Errorf("Iterate(%s) error = %v", Repr(v), err)
		}
	}
}
