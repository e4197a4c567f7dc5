// Package server exposes a template set over the network. The render
// service speaks Connect over HTTP and gRPC, with protobuf messages
// (binary or JSON) described by stencil/v1/render.proto or CBOR messages;
// the LSP server gives editors diagnostics for template files.
package server

import (
	"net"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/chazu/stencil/templates"
)

var log = commonlog.GetLogger("stencil.server")

// StencilServer serves a template set. The Connect handler and the gRPC
// server share one RenderService.
type StencilServer struct {
	svc  *RenderService
	mux  *http.ServeMux
	grpc *grpc.Server

	mu   sync.Mutex
	http *http.Server
}

// ServerOption configures a StencilServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache        templates.Cache
	grpcOptions  []grpc.ServerOption
	interceptors []connect.Interceptor
}

// WithCache compiles ad-hoc request sources through c.
func WithCache(c templates.Cache) ServerOption {
	return func(cfg *serverConfig) { cfg.cache = c }
}

// WithGRPCOptions passes options to the gRPC server.
func WithGRPCOptions(opts ...grpc.ServerOption) ServerOption {
	return func(cfg *serverConfig) { cfg.grpcOptions = append(cfg.grpcOptions, opts...) }
}

// WithInterceptors adds Connect interceptors to the HTTP handlers.
func WithInterceptors(interceptors ...connect.Interceptor) ServerOption {
	return func(cfg *serverConfig) { cfg.interceptors = append(cfg.interceptors, interceptors...) }
}

// New creates a StencilServer for set. A nil set serves no templates;
// requests may still carry their own source.
func New(set *templates.Set, opts ...ServerOption) *StencilServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if set == nil {
		// An empty set cannot fail to compile
		set, _ = templates.FromSources(nil)
	}

	s := &StencilServer{
		svc:  NewRenderService(set, cfg.cache),
		mux:  http.NewServeMux(),
		grpc: grpc.NewServer(cfg.grpcOptions...),
	}

	handlerOpts := []connect.HandlerOption{
		connect.WithCodec(ProtoCodec{}),
		connect.WithCodec(JSONCodec{}),
		connect.WithCodec(Codec{}),
		connect.WithInterceptors(cfg.interceptors...),
	}
	s.mux.Handle(RenderProcedure, connect.NewServerStreamHandler(RenderProcedure, s.svc.Render, handlerOpts...))
	s.mux.Handle(ListTemplatesProcedure, connect.NewUnaryHandler(ListTemplatesProcedure, s.svc.ListTemplates, handlerOpts...))

	s.grpc.RegisterService(&RenderServiceDesc, s.svc)
	reflection.Register(s.grpc)
	return s
}

// Handler returns the HTTP handler serving the Connect procedures.
func (s *StencilServer) Handler() http.Handler {
	return s.mux
}

// GRPCServer returns the gRPC server with the render service registered.
func (s *StencilServer) GRPCServer() *grpc.Server {
	return s.grpc
}

// ListenAndServe serves Connect on addr ("host:port" or ":port"). HTTP/2
// without TLS is accepted so gRPC-protocol Connect clients work too.
func (s *StencilServer) ListenAndServe(addr string) error {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv := &http.Server{Addr: addr, Handler: s.mux, Protocols: &protocols}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	log.Noticef("render service listening on %s", addr)
	log.Noticef("  Connect: http://%s%s", addr, RenderProcedure)
	return srv.ListenAndServe()
}

// ServeGRPC serves the gRPC render service on lis.
func (s *StencilServer) ServeGRPC(lis net.Listener) error {
	log.Noticef("gRPC render service listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down both servers.
func (s *StencilServer) Stop() {
	s.grpc.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		s.http.Close()
	}
}
