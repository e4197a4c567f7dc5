package vm

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Built-in catalog
// ---------------------------------------------------------------------------

// MaxArgs is the largest number of arguments a call or method call takes.
const MaxArgs = 3

type function func(args []Value) (Value, error)

type method func(recv Value, args []Value) (Value, error)

// functions and methods are indexed by argument count.
var (
	functions [MaxArgs + 1]map[string]function
	methods   [MaxArgs + 1]map[string]method
)

func init() {
	functions[1] = map[string]function{
		"xmlescape": fnXMLEscape,
		"str":       func(a []Value) (Value, error) { return Str(ToString(a[0])), nil },
		"repr":      func(a []Value) (Value, error) { return Str(Repr(a[0])), nil },
		"int":       fnInt,
		"float":     fnFloat,
		"bool":      func(a []Value) (Value, error) { return Bool(Truth(a[0])), nil },
		"len":       fnLen,
		"enumerate": fnEnumerate,
		"isnone":    isType[None],
		"isstr":     isType[Str],
		"isint":     isType[Int],
		"isfloat":   isType[Float],
		"isbool":    isType[Bool],
		"islist":    isType[List],
		"isdict":    isType[*Map],
		"chr":       fnChr,
		"ord":       fnOrd,
		"hex":       baseFormatter("hex", 16, "0x"),
		"oct":       baseFormatter("oct", 8, "0o"),
		"bin":       baseFormatter("bin", 2, "0b"),
		"sorted":    fnSorted,
		"range":     fnRange,
	}
	functions[2] = map[string]function{"range": fnRange}
	functions[3] = map[string]function{"range": fnRange}

	methods[0] = map[string]method{
		"split":      mSplit,
		"rsplit":     mSplit,
		"strip":      stripper("strip", strings.TrimSpace, strings.Trim),
		"lstrip":     stripper("lstrip", trimLeftSpace, strings.TrimLeft),
		"rstrip":     stripper("rstrip", trimRightSpace, strings.TrimRight),
		"upper":      strMethod("upper", strings.ToUpper),
		"lower":      strMethod("lower", strings.ToLower),
		"capitalize": strMethod("capitalize", capitalize),
		"items":      mItems,
		"keys":       mKeys,
		"values":     mValues,
	}
	methods[1] = map[string]method{
		"split":      mSplit,
		"strip":      stripper("strip", strings.TrimSpace, strings.Trim),
		"lstrip":     stripper("lstrip", trimLeftSpace, strings.TrimLeft),
		"rstrip":     stripper("rstrip", trimRightSpace, strings.TrimRight),
		"startswith": strPredicate("startswith", strings.HasPrefix),
		"endswith":   strPredicate("endswith", strings.HasSuffix),
		"find":       mFind,
		"join":       mJoin,
		"get":        mGet,
	}
	methods[2] = map[string]method{
		"replace": mReplace,
		"get":     mGet,
	}
}

// CallFunction invokes the built-in function name with args.
func CallFunction(name string, args ...Value) (Value, error) {
	if len(args) <= MaxArgs {
		if fn, ok := functions[len(args)][name]; ok {
			return fn(args)
		}
	}
	return nil, fmt.Errorf("%w: %s() with %d argument(s)", ErrUnknownFunction, name, len(args))
}

// CallMethod invokes the built-in method name on recv with args.
func CallMethod(name string, recv Value, args ...Value) (Value, error) {
	if len(args) <= MaxArgs {
		if m, ok := methods[len(args)][name]; ok {
			return m(recv, args)
		}
	}
	return nil, fmt.Errorf("%w: %s.%s() with %d argument(s)", ErrUnknownMethod, TypeName(recv), name, len(args))
}

// HasFunction reports whether a built-in function name takes n arguments.
func HasFunction(name string, n int) bool {
	if n < 0 || n > MaxArgs {
		return false
	}
	_, ok := functions[n][name]
	return ok
}

// HasMethod reports whether a built-in method name takes n arguments.
func HasMethod(name string, n int) bool {
	if n < 0 || n > MaxArgs {
		return false
	}
	_, ok := methods[n][name]
	return ok
}

// Builtin describes one entry of the built-in catalog.
type Builtin struct {
	Name    string
	Method  bool
	Arities []int
}

// Signature renders the entry as "name(n|m)" or ".name(n)".
func (b Builtin) Signature() string {
	counts := make([]string, len(b.Arities))
	for i, n := range b.Arities {
		counts[i] = strconv.Itoa(n)
	}
	prefix := ""
	if b.Method {
		prefix = "."
	}
	return fmt.Sprintf("%s%s(%s)", prefix, b.Name, strings.Join(counts, "|"))
}

// Builtins lists every built-in function and method, sorted by name with
// functions first.
func Builtins() []Builtin {
	byName := map[string]*Builtin{}
	add := func(name string, isMethod bool, arity int) {
		key := name
		if isMethod {
			key = "." + name
		}
		b, ok := byName[key]
		if !ok {
			b = &Builtin{Name: name, Method: isMethod}
			byName[key] = b
		}
		b.Arities = append(b.Arities, arity)
	}
	for n, table := range functions {
		for name := range table {
			add(name, false, n)
		}
	}
	for n, table := range methods {
		for name := range table {
			add(name, true, n)
		}
	}
	out := make([]Builtin, 0, len(byName))
	for _, b := range byName {
		slices.Sort(b.Arities)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return !out[i].Method
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func fnXMLEscape(a []Value) (Value, error) {
	return Str(XMLEscape(ToString(a[0]))), nil
}

func isType[T Value](a []Value) (Value, error) {
	_, ok := a[0].(T)
	return Bool(ok), nil
}

func fnInt(a []Value) (Value, error) {
	switch v := a[0].(type) {
	case Int:
		return v, nil
	case Bool:
		if v {
			return Int(1), nil
		}
		return Int(0), nil
	case Float:
		f := math.Trunc(float64(v))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: cannot convert %s to int", ErrBadArgument, Repr(v))
		}
		return Int(f), nil
	case Str:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid literal for int(): %s", ErrBadArgument, Repr(v))
		}
		return Int(n), nil
	}
	return nil, typeError("int", a[0])
}

func fnFloat(a []Value) (Value, error) {
	switch v := a[0].(type) {
	case Float:
		return v, nil
	case Int:
		return Float(v), nil
	case Bool:
		if v {
			return Float(1), nil
		}
		return Float(0), nil
	case Str:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid literal for float(): %s", ErrBadArgument, Repr(v))
		}
		return Float(f), nil
	}
	return nil, typeError("float", a[0])
}

func fnLen(a []Value) (Value, error) {
	switch v := a[0].(type) {
	case Str:
		return Int(utf8.RuneCountInString(string(v))), nil
	case List:
		return Int(len(v)), nil
	case *Map:
		return Int(v.Len()), nil
	}
	return nil, typeError("len", a[0])
}

func fnEnumerate(a []Value) (Value, error) {
	it, err := Iterate(a[0])
	if err != nil {
		return nil, typeError("enumerate", a[0])
	}
	var i Int
	return NewIter(func() (Value, bool) {
		v, ok := it.Next()
		if !ok {
			return nil, false
		}
		pair := List{i, v}
		i++
		return pair, true
	}), nil
}

func fnChr(a []Value) (Value, error) {
	n, ok := a[0].(Int)
	if !ok {
		return nil, typeError("chr", a[0])
	}
	if n < 0 || n > unicode.MaxRune || !utf8.ValidRune(rune(n)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCodePoint, n)
	}
	return Str(rune(n)), nil
}

func fnOrd(a []Value) (Value, error) {
	s, ok := a[0].(Str)
	if !ok {
		return nil, typeError("ord", a[0])
	}
	if utf8.RuneCountInString(string(s)) != 1 {
		return nil, fmt.Errorf("%w: ord() expected a single character, got %s", ErrBadArgument, Repr(s))
	}
	r, _ := utf8.DecodeRuneInString(string(s))
	return Int(r), nil
}

func baseFormatter(name string, base int, prefix string) function {
	return func(a []Value) (Value, error) {
		n, ok := a[0].(Int)
		if !ok {
			return nil, typeError(name, a[0])
		}
		if n < 0 {
			return Str("-" + prefix + strconv.FormatUint(uint64(-n), base)), nil
		}
		return Str(prefix + strconv.FormatInt(int64(n), base)), nil
	}
}

func fnSorted(a []Value) (Value, error) {
	it, err := Iterate(a[0])
	if err != nil {
		return nil, typeError("sorted", a[0])
	}
	items := drain(it)
	var cmpErr error
	sort.SliceStable(items, func(i, j int) bool {
		c, err := Compare("sorted", items[i], items[j])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	if items == nil {
		items = List{}
	}
	return items, nil
}

func fnRange(a []Value) (Value, error) {
	bounds := make([]Int, len(a))
	for i, v := range a {
		n, ok := v.(Int)
		if !ok {
			return nil, typeError("range", a...)
		}
		bounds[i] = n
	}
	start, stop, step := Int(0), Int(0), Int(1)
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return nil, fmt.Errorf("%w: range() step must not be zero", ErrBadArgument)
	}
	cur, left := start, rangeLen(start, stop, step)
	return NewIter(func() (Value, bool) {
		if left == 0 {
			return nil, false
		}
		v := cur
		left--
		if left > 0 {
			cur += step
		}
		return v, true
	}), nil
}

// rangeLen counts the items of range(start, stop, step) without overflowing
// near the int64 limits.
func rangeLen(start, stop, step Int) uint64 {
	switch {
	case step > 0 && start < stop:
		return (uint64(stop)-uint64(start)-1)/uint64(step) + 1
	case step < 0 && start > stop:
		return (uint64(start)-uint64(stop)-1)/(-uint64(step)) + 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

func strMethod(name string, fn func(string) string) method {
	return func(recv Value, _ []Value) (Value, error) {
		s, ok := recv.(Str)
		if !ok {
			return nil, typeError(name, recv)
		}
		return Str(fn(string(s))), nil
	}
}

func strPredicate(name string, fn func(s, arg string) bool) method {
	return func(recv Value, args []Value) (Value, error) {
		s, ok1 := recv.(Str)
		arg, ok2 := args[0].(Str)
		if !ok1 || !ok2 {
			return nil, typeError(name, recv, args[0])
		}
		return Bool(fn(string(s), string(arg))), nil
	}
}

func trimLeftSpace(s string) string  { return strings.TrimLeftFunc(s, unicode.IsSpace) }
func trimRightSpace(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }

// stripper builds a strip method: without arguments (or with None) it trims
// whitespace, otherwise the characters of its string argument.
func stripper(name string, space func(string) string, chars func(string, string) string) method {
	return func(recv Value, args []Value) (Value, error) {
		s, ok := recv.(Str)
		if !ok {
			return nil, typeError(name, recv)
		}
		if len(args) == 0 || isNone(args[0]) {
			return Str(space(string(s))), nil
		}
		cs, ok := args[0].(Str)
		if !ok {
			return nil, typeError(name, recv, args[0])
		}
		return Str(chars(string(s), string(cs))), nil
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func isNone(v Value) bool {
	switch v.(type) {
	case nil, None:
		return true
	}
	return false
}

func strList(parts []string) List {
	out := make(List, len(parts))
	for i, p := range parts {
		out[i] = Str(p)
	}
	return out
}

func mSplit(recv Value, args []Value) (Value, error) {
	s, ok := recv.(Str)
	if !ok {
		return nil, typeError("split", recv)
	}
	if len(args) == 0 || isNone(args[0]) {
		return strList(strings.Fields(string(s))), nil
	}
	sep, ok := args[0].(Str)
	if !ok {
		return nil, typeError("split", recv, args[0])
	}
	if sep == "" {
		return nil, fmt.Errorf("%w: empty separator", ErrBadArgument)
	}
	return strList(strings.Split(string(s), string(sep))), nil
}

func mFind(recv Value, args []Value) (Value, error) {
	s, ok1 := recv.(Str)
	sub, ok2 := args[0].(Str)
	if !ok1 || !ok2 {
		return nil, typeError("find", recv, args[0])
	}
	i := strings.Index(string(s), string(sub))
	if i < 0 {
		return Int(-1), nil
	}
	return Int(utf8.RuneCountInString(string(s)[:i])), nil
}

func mJoin(recv Value, args []Value) (Value, error) {
	sep, ok := recv.(Str)
	if !ok {
		return nil, typeError("join", recv, args[0])
	}
	it, err := Iterate(args[0])
	if err != nil {
		return nil, typeError("join", recv, args[0])
	}
	var parts []string
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		s, ok := v.(Str)
		if !ok {
			return nil, typeError("join", recv, v)
		}
		parts = append(parts, string(s))
	}
	return Str(strings.Join(parts, string(sep))), nil
}

func mReplace(recv Value, args []Value) (Value, error) {
	s, ok1 := recv.(Str)
	old, ok2 := args[0].(Str)
	repl, ok3 := args[1].(Str)
	if !ok1 || !ok2 || !ok3 {
		return nil, typeError("replace", recv, args[0], args[1])
	}
	return Str(strings.ReplaceAll(string(s), string(old), string(repl))), nil
}

func mGet(recv Value, args []Value) (Value, error) {
	m, ok1 := recv.(*Map)
	key, ok2 := args[0].(Str)
	if !ok1 || !ok2 {
		return nil, typeError("get", recv, args[0])
	}
	if v, ok := m.Get(string(key)); ok {
		return v, nil
	}
	if len(args) > 1 {
		return args[1], nil
	}
	return Nil, nil
}

func mItems(recv Value, _ []Value) (Value, error) {
	m, ok := recv.(*Map)
	if !ok {
		return nil, typeError("items", recv)
	}
	keys := m.Keys()
	i := 0
	return NewIter(func() (Value, bool) {
		if i >= len(keys) {
			return nil, false
		}
		k := keys[i]
		i++
		return List{Str(k), m.items[k]}, true
	}), nil
}

func mKeys(recv Value, _ []Value) (Value, error) {
	m, ok := recv.(*Map)
	if !ok {
		return nil, typeError("keys", recv)
	}
	return strList(m.Keys()), nil
}

func mValues(recv Value, _ []Value) (Value, error) {
	m, ok := recv.(*Map)
	if !ok {
		return nil, typeError("values", recv)
	}
	out := make(List, 0, m.Len())
	for _, k := range m.Keys() {
		out = append(out, m.items[k])
	}
	return out, nil
}
