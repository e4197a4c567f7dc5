// Package datafile loads render input from YAML, JSON, CBOR and TOML
// documents into template values.
//
// YAML and JSON documents are walked through the yaml.v3 node tree so
// mappings keep their document order. TOML tables are ordered by the key
// order recorded in the decoder metadata. CBOR maps carry no reliable
// order and are sorted by key.
package datafile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/stencil/vm"
	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies a data file encoding.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
	FormatCBOR
	FormatTOML
)

var formatNames = [...]string{"yaml", "json", "cbor", "toml"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// ErrUnknownFormat is returned when a file extension or format name is
// not recognized.
var ErrUnknownFormat = errors.New("unknown data format")

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseFormat maps a format name (or extension without the dot) to a
// Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	case "toml":
		return FormatTOML, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Load reads the file at path and converts it, choosing the format by
// extension.
func Load(path string) (vm.Value, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Parse converts a document in the given format. An empty YAML or JSON
// document is None.
func Parse(data []byte, format Format) (vm.Value, error) {
	switch format {
	case FormatYAML, FormatJSON:
		return parseYAML(data)
	case FormatCBOR:
		return parseCBOR(data)
	case FormatTOML:
		return parseTOML(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// ---------------------------------------------------------------------------
// YAML / JSON
// ---------------------------------------------------------------------------

func parseYAML(data []byte) (vm.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc.Kind == 0 {
		return vm.Nil, nil
	}
	return FromNode(&doc)
}

// FromNode converts a yaml.v3 node tree. Aliases are followed and merge
// keys ("<<") are expanded.
func FromNode(n *yaml.Node) (vm.Value, error) {
	return fromNode(n, 0)
}

// maxAliasDepth bounds alias chains so a recursive anchor fails instead of
// looping.
const maxAliasDepth = 100

func fromNode(n *yaml.Node, depth int) (vm.Value, error) {
	if depth > maxAliasDepth {
		return nil, fmt.Errorf("yaml: line %d: document nested too deeply", n.Line)
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return vm.Nil, nil
		}
		return fromNode(n.Content[0], depth)

	case yaml.AliasNode:
		return fromNode(n.Alias, depth+1)

	case yaml.SequenceNode:
		out := make(vm.List, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := fromNode(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.MappingNode:
		m := vm.NewMap()
		if err := fillMap(m, n, depth); err != nil {
			return nil, err
		}
		return m, nil

	case yaml.ScalarNode:
		var x any
		if err := n.Decode(&x); err != nil {
			return nil, fmt.Errorf("yaml: line %d: %w", n.Line, err)
		}
		return fromGo(x)
	}
	return nil, fmt.Errorf("yaml: line %d: unexpected node kind %d", n.Line, n.Kind)
}

func fillMap(m *vm.Map, n *yaml.Node, depth int) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Kind == yaml.ScalarNode && key.ShortTag() == "!!merge" {
			if err := merge(m, val, depth); err != nil {
				return err
			}
			continue
		}
		if key.Kind != yaml.ScalarNode {
			return fmt.Errorf("yaml: line %d: mapping keys must be scalars", key.Line)
		}
		v, err := fromNode(val, depth+1)
		if err != nil {
			return err
		}
		m.Set(key.Value, v)
	}
	return nil
}

// merge copies the entries of a merged mapping (or each mapping of a
// merged sequence) into m. Keys already present are kept.
func merge(m *vm.Map, n *yaml.Node, depth int) error {
	for n.Kind == yaml.AliasNode {
		n = n.Alias
		depth++
	}
	var sources []*yaml.Node
	switch n.Kind {
	case yaml.MappingNode:
		sources = []*yaml.Node{n}
	case yaml.SequenceNode:
		sources = n.Content
	default:
		return fmt.Errorf("yaml: line %d: merge value must be a mapping", n.Line)
	}
	for _, src := range sources {
		v, err := fromNode(src, depth+1)
		if err != nil {
			return err
		}
		sm, ok := v.(*vm.Map)
		if !ok {
			return fmt.Errorf("yaml: line %d: merge value must be a mapping", src.Line)
		}
		for _, k := range sm.Keys() {
			if !m.Has(k) {
				item, _ := sm.Get(k)
				m.Set(k, item)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// CBOR
// ---------------------------------------------------------------------------

var cborDecMode cbor.DecMode

func init() {
	dm, err := cbor.DecOptions{MaxNestedLevels: 256}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("datafile: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

func parseCBOR(data []byte) (vm.Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return vm.Nil, nil
	}
	var x any
	if err := cborDecMode.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("cbor: %w", err)
	}
	return fromGo(x)
}

// ---------------------------------------------------------------------------
// TOML
// ---------------------------------------------------------------------------

func parseTOML(data []byte) (vm.Value, error) {
	var x map[string]any
	md, err := toml.Decode(string(data), &x)
	if err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	order := make(map[string]int)
	for i, k := range md.Keys() {
		s := strings.Join(k, "\x00")
		if _, ok := order[s]; !ok {
			order[s] = i
		}
	}
	return tomlValue(x, nil, order)
}

func tomlValue(x any, path []string, order map[string]int) (vm.Value, error) {
	switch x := x.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		prefix := strings.Join(path, "\x00")
		if len(path) > 0 {
			prefix += "\x00"
		}
		pos := func(k string) int {
			if i, ok := order[prefix+k]; ok {
				return i
			}
			return len(order)
		}
		sort.SliceStable(keys, func(i, j int) bool {
			pi, pj := pos(keys[i]), pos(keys[j])
			if pi != pj {
				return pi < pj
			}
			return keys[i] < keys[j]
		})
		m := vm.NewMap()
		for _, k := range keys {
			v, err := tomlValue(x[k], append(path[:len(path):len(path)], k), order)
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	case []map[string]any:
		out := make(vm.List, len(x))
		for i, item := range x {
			v, err := tomlValue(item, path, order)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case []any:
		out := make(vm.List, len(x))
		for i, item := range x {
			v, err := tomlValue(item, path, order)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return fromGo(x)
}

// ---------------------------------------------------------------------------
// Shared conversion
// ---------------------------------------------------------------------------

// fromGo extends vm.FromGo with the extra scalar types decoders produce.
// Timestamps become RFC 3339 strings.
func fromGo(x any) (vm.Value, error) {
	switch x := x.(type) {
	case time.Time:
		return vm.Str(x.Format(time.RFC3339Nano)), nil
	case cbor.Tag:
		return fromGo(x.Content)
	case []any:
		out := make(vm.List, len(x))
		for i, item := range x {
			v, err := fromGo(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[any]any:
		conv := make(map[string]any, len(x))
		for k, v := range x {
			conv[fmt.Sprint(k)] = v
		}
		return fromGo(conv)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := vm.NewMap()
		for _, k := range keys {
			v, err := fromGo(x[k])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	}
	return vm.FromGo(x)
}
