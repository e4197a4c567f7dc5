// Package templates loads named sets of templates. Templates refer to each
// other by name through render tags; a Set compiles all of them up front
// and hands the renderer the name-to-program map it needs.
package templates

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/stencil/compiler"
	"github.com/chazu/stencil/vm"
)

var log = commonlog.GetLogger("stencil.templates")

// DefaultExt is the template file extension used when none is given.
const DefaultExt = ".tmpl"

// Cache compiles template sources through a program cache. *store.Store
// satisfies it.
type Cache interface {
	Compile(ctx context.Context, name, source string, compile func(string) (*vm.Program, error)) (*vm.Program, error)
}

// WarningFunc receives the semantic warnings of one template.
type WarningFunc func(name string, w compiler.Warning)

type options struct {
	ctx      context.Context
	cache    Cache
	warnings WarningFunc
}

// Option configures loading.
type Option func(*options)

// WithCache compiles every template through c.
func WithCache(c Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithContext sets the context passed to the cache.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithWarnings replaces the default warning handler, which logs.
func WithWarnings(fn WarningFunc) Option {
	return func(o *options) { o.warnings = fn }
}

func logWarning(name string, w compiler.Warning) {
	log.Warningf("%s: %s", name, w)
}

func newOptions(opts []Option) *options {
	o := &options{ctx: context.Background(), warnings: logWarning}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set is an immutable collection of compiled templates. It is safe for
// concurrent use.
type Set struct {
	programs vm.Templates
	sources  map[string]string
	names    []string
}

// Name converts a path relative to the template directory into a template
// name: slash separated, without the extension.
func Name(rel, ext string) string {
	return strings.TrimSuffix(filepath.ToSlash(rel), ext)
}

// LoadDir compiles every file below dir ending in ext (DefaultExt if
// empty). Directories whose name starts with a dot are skipped.
func LoadDir(dir, ext string, opts ...Option) (*Set, error) {
	return LoadDirs([]string{dir}, ext, opts...)
}

// LoadDirs loads several directories into one set. Later directories win
// when two define the same name.
func LoadDirs(dirs []string, ext string, opts ...Option) (*Set, error) {
	if ext == "" {
		ext = DefaultExt
	}
	sources := map[string]string{}
	for _, dir := range dirs {
		if err := readDir(dir, ext, sources); err != nil {
			return nil, fmt.Errorf("loading templates from %s: %w", dir, err)
		}
	}
	return FromSources(sources, opts...)
}

func readDir(dir, ext string, sources map[string]string) error {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sources[Name(rel, ext)] = string(data)
		n++
		return nil
	})
	if err == nil {
		log.Infof("found %d templates in %s", n, dir)
	}
	return err
}

// FromSources compiles a set from template sources keyed by name.
func FromSources(sources map[string]string, opts ...Option) (*Set, error) {
	o := newOptions(opts)
	s := &Set{
		programs: make(vm.Templates, len(sources)),
		sources:  make(map[string]string, len(sources)),
	}
	for name := range sources {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	for _, name := range s.names {
		src := sources[name]
		p, err := o.compile(name, src)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		s.programs[name] = p
		s.sources[name] = src
	}

	if o.warnings != nil {
		for _, name := range s.names {
			// Every source compiled above, so Analyze cannot fail here.
			warnings, _ := compiler.Analyze(s.sources[name], s.names)
			for _, w := range warnings {
				o.warnings(name, w)
			}
		}
	}
	return s, nil
}

func (o *options) compile(name, src string) (*vm.Program, error) {
	if o.cache == nil {
		return compiler.Compile(src)
	}
	return o.cache.Compile(o.ctx, name, src, compiler.Compile)
}

// Lookup returns the compiled template called name.
func (s *Set) Lookup(name string) (*vm.Program, bool) {
	p, ok := s.programs[name]
	return p, ok
}

// Source returns the text of the template called name.
func (s *Set) Source(name string) (string, bool) {
	src, ok := s.sources[name]
	return src, ok
}

// Names returns the template names in sorted order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of templates.
func (s *Set) Len() int {
	return len(s.names)
}

// Templates returns the name-to-program map for the renderer. The map
// must not be modified.
func (s *Set) Templates() vm.Templates {
	return s.programs
}

// Render renders the template called name with data.
func (s *Set) Render(name string, data vm.Value) (string, error) {
	var sb strings.Builder
	err := s.RenderTo(&sb, name, data)
	return sb.String(), err
}

// RenderTo renders the template called name into w.
func (s *Set) RenderTo(w io.Writer, name string, data vm.Value) error {
	p, ok := s.programs[name]
	if !ok {
		return fmt.Errorf("%w: %s", vm.ErrUnknownTemplate, name)
	}
	return p.RenderTo(w, data, s.programs)
}
