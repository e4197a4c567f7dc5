// Stencil CLI - compiles and renders templates, or serves them
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/chazu/stencil/compiler"
	"github.com/chazu/stencil/datafile"
	"github.com/chazu/stencil/manifest"
	"github.com/chazu/stencil/server"
	"github.com/chazu/stencil/store"
	"github.com/chazu/stencil/templates"
	"github.com/chazu/stencil/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// countFlag counts how often a boolean flag is given.
type countFlag int

func (c *countFlag) String() string { return strconv.Itoa(int(*c)) }

func (c *countFlag) Set(v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	if b {
		*c++
	}
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

type options struct {
	data     string
	format   string
	dirs     listFlag
	ext      string
	output   string
	compile  bool
	load     bool
	disasm   bool
	check    bool
	cache    string
	serve    string
	grpcAddr string
	lsp      bool
	verbose  countFlag
	noConfig bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var o options
	fs := flag.NewFlagSet("stencil", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.data, "data", "", "Data file (YAML, JSON, CBOR or TOML by extension; - for stdin)")
	fs.StringVar(&o.format, "format", "", "Data format, overriding the file extension")
	fs.Var(&o.dirs, "t", "Template directory (repeatable)")
	fs.StringVar(&o.ext, "ext", "", "Template file extension (default .tmpl)")
	fs.StringVar(&o.output, "o", "", "Output file (default stdout)")
	fs.BoolVar(&o.compile, "compile", false, "Write the compiled binary program instead of rendering")
	fs.BoolVar(&o.load, "load", false, "The template argument is a compiled binary program")
	fs.BoolVar(&o.disasm, "disasm", false, "Print the program's instructions instead of rendering")
	fs.BoolVar(&o.check, "check", false, "Report parse errors and warnings without rendering")
	fs.StringVar(&o.cache, "cache", "", "SQLite program cache path")
	fs.StringVar(&o.serve, "serve", "", "Serve the render service (Connect) on this address")
	fs.StringVar(&o.grpcAddr, "grpc", "", "Serve the render service (gRPC) on this address")
	fs.BoolVar(&o.lsp, "lsp", false, "Run the language server on stdio")
	fs.Var(&o.verbose, "v", "Verbose logging (repeatable)")
	fs.BoolVar(&o.noConfig, "no-config", false, "Ignore stencil.toml")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: stencil [options] [template-file]\n\n")
		fmt.Fprintf(stderr, "Renders a template with data, or serves a directory of templates.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  stencil -data site.yaml page.tmpl       # Render page.tmpl\n")
		fmt.Fprintf(stderr, "  stencil -t templates -data d.json main  # Render a template of a directory\n")
		fmt.Fprintf(stderr, "  stencil -compile page.tmpl > page.bin   # Compile to a binary program\n")
		fmt.Fprintf(stderr, "  stencil -load -disasm page.bin          # Show the instructions\n")
		fmt.Fprintf(stderr, "  stencil -t templates -serve :8080       # Serve the render service\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	app := &app{opts: o, stdin: stdin, stdout: stdout, stderr: stderr}
	if err := app.setup(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer app.close()

	if err := app.run(fs.Arg(0)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type app struct {
	opts     options
	manifest *manifest.Manifest
	cache    *store.Store
	set      *templates.Set

	stdin          io.Reader
	stdout, stderr io.Writer
}

// setup merges the manifest into the options, configures logging and
// loads the template set.
func (a *app) setup() error {
	if !a.opts.noConfig {
		m, err := manifest.FindAndLoad(".")
		if err != nil {
			return err
		}
		a.manifest = m
	}
	a.applyManifest()

	var logPath *string
	if a.manifest != nil && a.manifest.Log.File != "" {
		p := a.manifest.LogPath()
		logPath = &p
	}
	verbosity := int(a.opts.verbose)
	if a.manifest != nil {
		verbosity += a.manifest.Log.Verbosity
	}
	commonlog.Configure(verbosity, logPath)

	if a.opts.cache != "" {
		c, err := store.Open(a.opts.cache)
		if err != nil {
			return fmt.Errorf("program cache: %w", err)
		}
		a.cache = c
	}

	var opts []templates.Option
	if a.cache != nil {
		opts = append(opts, templates.WithCache(a.cache))
	}
	set, err := templates.LoadDirs(a.opts.dirs, a.opts.ext, opts...)
	if err != nil {
		return err
	}
	a.set = set
	return nil
}

// applyManifest fills options the command line left unset.
func (a *app) applyManifest() {
	m := a.manifest
	if m == nil {
		return
	}
	if len(a.opts.dirs) == 0 {
		for _, dir := range m.TemplateDirPaths() {
			// The default directory is optional
			if _, err := os.Stat(dir); err == nil {
				a.opts.dirs = append(a.opts.dirs, dir)
			}
		}
	}
	if a.opts.ext == "" {
		a.opts.ext = m.Templates.Ext
	}
	if a.opts.data == "" {
		a.opts.data = m.DataPath()
	}
	if a.opts.output == "" {
		a.opts.output = m.OutputPath()
	}
	if a.opts.cache == "" {
		a.opts.cache = m.CachePath()
	}
	if a.opts.serve == "" {
		a.opts.serve = m.Server.Addr
	}
	if a.opts.grpcAddr == "" {
		a.opts.grpcAddr = m.Server.GRPCAddr
	}
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

func (a *app) run(arg string) error {
	switch {
	case a.opts.lsp:
		return server.NewLSP(a.set.Names()...).Run()
	case arg == "" && (a.opts.serve != "" || a.opts.grpcAddr != ""):
		return a.serve()
	}

	name, p, err := a.program(arg)
	if err != nil {
		return err
	}

	if a.opts.check {
		return a.checkProgram(name, p)
	}

	return a.withOutput(func(w io.Writer) error {
		switch {
		case a.opts.compile:
			return p.SaveTo(w)
		case a.opts.disasm:
			_, err := io.WriteString(w, p.Disassemble())
			return err
		}
		data, err := a.loadData()
		if err != nil {
			return err
		}
		return p.RenderTo(w, data, a.set.Templates())
	})
}

// program resolves the template argument: a file, a compiled program, a
// member of the template set, or the manifest's main template.
func (a *app) program(arg string) (string, *vm.Program, error) {
	if arg == "" {
		if a.manifest == nil || a.manifest.Templates.Main == "" {
			return "", nil, errors.New("no template given and no main template configured")
		}
		arg = a.manifest.Templates.Main
	}

	if a.opts.load {
		p, err := vm.LoadProgram(arg)
		return arg, p, err
	}

	if _, err := os.Stat(arg); err != nil {
		if p, ok := a.set.Lookup(arg); ok {
			return arg, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", vm.ErrUnknownTemplate, arg)
	}

	src, err := os.ReadFile(arg)
	if err != nil {
		return "", nil, err
	}
	if a.cache != nil {
		p, err := a.cache.Compile(context.Background(), arg, string(src), compiler.Compile)
		return arg, p, err
	}
	p, err := compiler.Compile(string(src))
	return arg, p, err
}

// checkProgram prints the semantic warnings of a program's source.
func (a *app) checkProgram(name string, p *vm.Program) error {
	warnings, err := compiler.Analyze(p.Source, a.set.Names())
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(a.stdout, "%s: %s\n", name, w)
	}
	return nil
}

func (a *app) loadData() (vm.Value, error) {
	path := a.opts.data
	if path == "" {
		return vm.Nil, nil
	}

	if path != "-" && a.opts.format == "" {
		return datafile.Load(path)
	}

	format := datafile.FormatYAML
	if a.opts.format != "" {
		f, err := datafile.ParseFormat(a.opts.format)
		if err != nil {
			return nil, err
		}
		format = f
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return datafile.Parse(data, format)
}

// withOutput runs fn against the output file or stdout. Output written
// before a failure is kept.
func (a *app) withOutput(fn func(io.Writer) error) error {
	out := a.stdout
	if a.opts.output != "" {
		f, err := os.Create(a.opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	err := fn(w)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return err
}

func (a *app) serve() error {
	var opts []server.ServerOption
	if a.cache != nil {
		opts = append(opts, server.WithCache(a.cache))
	}
	srv := server.New(a.set, opts...)
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	if a.opts.grpcAddr != "" {
		lis, err := net.Listen("tcp", a.opts.grpcAddr)
		if err != nil {
			return err
		}
		go func() { errs <- srv.ServeGRPC(lis) }()
	}
	if a.opts.serve != "" {
		go func() { errs <- srv.ListenAndServe(a.opts.serve) }()
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return nil
	}
}
