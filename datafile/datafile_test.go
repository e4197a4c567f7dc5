package datafile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/stencil/vm"
	"github.com/fxamacker/cbor/v2"
)

func mustParse(t *testing.T, src string, format Format) vm.Value {
	t.Helper()
	v, err := Parse([]byte(src), format)
	if err != nil {
		t.Fatalf("Parse(%s) error: %v", format, err)
	}
	return v
}

func TestParseYAMLKeepsOrder(t *testing.T) {
	src := `
zeta: 1
alpha: [1, 2.5, "s", true, null]
mid:
  b: x
  a: y
`
	got := vm.Repr(mustParse(t, src, FormatYAML))
	want := "{'zeta': 1, 'alpha': [1, 2.5, 's', True, None], 'mid': {'b': 'x', 'a': 'y'}}"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestParseJSON(t *testing.T) {
	got := vm.Repr(mustParse(t, `{"b": [1, {"z": null, "a": false}], "a": "x"}`, FormatJSON))
	want := "{'b': [1, {'z': None, 'a': False}], 'a': 'x'}"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestParseYAMLAliasAndMerge(t *testing.T) {
	src := `
base: &b
  x: 1
  y: 2
copy: *b
item:
  <<: *b
  y: 3
`
	m := mustParse(t, src, FormatYAML).(*vm.Map)
	if c, _ := m.Get("copy"); vm.Repr(c) != "{'x': 1, 'y': 2}" {
		t.Errorf("alias = %s", vm.Repr(c))
	}
	if it, _ := m.Get("item"); vm.Repr(it) != "{'x': 1, 'y': 3}" {
		t.Errorf("merge = %s", vm.Repr(it))
	}
}

func TestParseEmptyDocuments(t *testing.T) {
	for _, f := range []Format{FormatYAML, FormatJSON, FormatCBOR} {
		if v := mustParse(t, "", f); v != vm.Nil {
			t.Errorf("%s: empty document = %s, want None", f, vm.Repr(v))
		}
	}
	if v := mustParse(t, "", FormatTOML); vm.Repr(v) != "{}" {
		t.Errorf("toml: empty document = %s, want {}", vm.Repr(v))
	}
}

func TestParseTOMLKeepsOrder(t *testing.T) {
	src := `
title = "x"

[owner]
name = "a"
age = 3

[[items]]
id = 1

[[items]]
id = 2
`
	got := vm.Repr(mustParse(t, src, FormatTOML))
	want := "{'title': 'x', 'owner': {'name': 'a', 'age': 3}, 'items': [{'id': 1}, {'id': 2}]}"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestParseTOMLDatetime(t *testing.T) {
	m := mustParse(t, "when = 1979-05-27T07:32:00Z\n", FormatTOML).(*vm.Map)
	if v, _ := m.Get("when"); v != vm.Str("1979-05-27T07:32:00Z") {
		t.Errorf("datetime = %s", vm.Repr(v))
	}
}

func TestParseCBORSortsKeys(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{
		"b":    []any{1, "two", 3.5},
		"a":    map[string]any{"y": true, "x": nil},
		"blob": []byte("raw"),
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Parse(data, FormatCBOR)
	if err != nil {
		t.Fatal(err)
	}
	want := "{'a': {'x': None, 'y': True}, 'b': [1, 'two', 3.5], 'blob': 'raw'}"
	if got := vm.Repr(v); got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		format Format
		src    string
	}{
		{FormatYAML, "a: [1, 2"},
		{FormatJSON, `{"a": [1}`},
		{FormatTOML, "a = "},
		{FormatCBOR, "\xff\xff"},
		{FormatYAML, "? [1, 2]\n: x\n"},
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c.src), c.format); err == nil {
			t.Errorf("%s %q: expected error", c.format, c.src)
		}
	}
	if _, err := Parse(nil, Format(42)); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("unknown format error = %v", err)
	}
}

func TestFormatForPath(t *testing.T) {
	cases := map[string]Format{
		"data.yaml":   FormatYAML,
		"data.YML":    FormatYAML,
		"a/b.json":    FormatJSON,
		"x.cbor":      FormatCBOR,
		"config.toml": FormatTOML,
	}
	for path, want := range cases {
		got, err := FormatForPath(path)
		if err != nil || got != want {
			t.Errorf("FormatForPath(%q) = %s, %v; want %s", path, got, err, want)
		}
	}
	for _, path := range []string{"data.txt", "noext"} {
		if _, err := FormatForPath(path); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("FormatForPath(%q) error = %v", path, err)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yaml")
	if err := os.WriteFile(path, []byte("name: world\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if vm.Repr(v) != "{'name': 'world'}" {
		t.Errorf("Load = %s", vm.Repr(v))
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}
}
