package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/stencil/compiler"
	"github.com/chazu/stencil/datafile"
	"github.com/chazu/stencil/templates"
	"github.com/chazu/stencil/vm"
)

const (
	// RenderServiceName is the fully-qualified name of the render service.
	RenderServiceName = "stencil.v1.RenderService"

	// RenderProcedure is the server-streaming render procedure.
	RenderProcedure = "/" + RenderServiceName + "/Render"

	// ListTemplatesProcedure is the unary procedure listing template names.
	ListTemplatesProcedure = "/" + RenderServiceName + "/ListTemplates"

	// RequestIDHeader carries the id a request is logged under.
	RequestIDHeader = "Stencil-Request-Id"
)

// RenderService renders templates of a set for Connect and gRPC clients.
type RenderService struct {
	set   *templates.Set
	cache templates.Cache
}

// NewRenderService creates a RenderService over set. cache, when non-nil,
// compiles ad-hoc sources.
func NewRenderService(set *templates.Set, cache templates.Cache) *RenderService {
	return &RenderService{set: set, cache: cache}
}

// Render streams the output of one template, a chunk per message.
func (s *RenderService) Render(
	ctx context.Context,
	req *connect.Request[RenderRequest],
	stream *connect.ServerStream[RenderResponse],
) error {
	id := uuid.NewString()
	stream.ResponseHeader().Set(RequestIDHeader, id)
	return s.render(ctx, id, req.Msg, stream.Send)
}

// ListTemplates returns the names of the served templates.
func (s *RenderService) ListTemplates(
	ctx context.Context,
	req *connect.Request[ListTemplatesRequest],
) (*connect.Response[ListTemplatesResponse], error) {
	return connect.NewResponse(s.listTemplates()), nil
}

func (s *RenderService) listTemplates() *ListTemplatesResponse {
	return &ListTemplatesResponse{Names: s.set.Names()}
}

// render runs a request and sends its chunks. Errors are *connect.Error
// values carrying the status code of the failure.
func (s *RenderService) render(ctx context.Context, id string, req *RenderRequest, send func(*RenderResponse) error) error {
	log.Infof("%s: render %s", id, describe(req))

	p, err := s.program(ctx, req)
	if err != nil {
		log.Infof("%s: %s", id, err)
		return err
	}
	data, err := datafile.Parse(req.Data, datafile.FormatCBOR)
	if err != nil {
		log.Infof("%s: bad data: %s", id, err)
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("data: %w", err))
	}

	r := p.Render(data, s.set.Templates())
	n := 0
	for r.Next() {
		if err := ctx.Err(); err != nil {
			log.Infof("%s: cancelled after %d chunks", id, n)
			return connect.NewError(connect.CodeCanceled, err)
		}
		if err := send(&RenderResponse{Text: r.Chunk()}); err != nil {
			log.Warningf("%s: send failed: %s", id, err)
			return err
		}
		n++
	}
	if err := r.Err(); err != nil {
		log.Warningf("%s: render failed after %d chunks: %s", id, n, err)
		return connect.NewError(connect.CodeAborted, err)
	}
	log.Debugf("%s: sent %d chunks", id, n)
	return nil
}

func (s *RenderService) program(ctx context.Context, req *RenderRequest) (*vm.Program, error) {
	switch {
	case req.Template != "" && req.Source != "":
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("template and source are mutually exclusive"))
	case req.Template != "":
		p, ok := s.set.Lookup(req.Template)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", vm.ErrUnknownTemplate, req.Template))
		}
		return p, nil
	case req.Source != "":
		var p *vm.Program
		var err error
		if s.cache != nil {
			p, err = s.cache.Compile(ctx, "(request)", req.Source, compiler.Compile)
		} else {
			p, err = compiler.Compile(req.Source)
		}
		if err != nil {
			var pe *compiler.ParseError
			if errors.As(err, &pe) {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return p, nil
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("template or source is required"))
	}
}

func describe(req *RenderRequest) string {
	if req.Template != "" {
		return fmt.Sprintf("template %q (%d data bytes)", req.Template, len(req.Data))
	}
	return fmt.Sprintf("%d-byte source (%d data bytes)", len(req.Source), len(req.Data))
}
