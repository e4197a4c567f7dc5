package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// requestIDKey is RequestIDHeader as gRPC metadata keys are spelled.
const requestIDKey = "stencil-request-id"

// renderServer is the handler type of RenderServiceDesc.
type renderServer interface {
	render(ctx context.Context, id string, req *RenderRequest, send func(*RenderResponse) error) error
	listTemplates() *ListTemplatesResponse
}

// RenderServiceDesc describes the render service to a *grpc.Server.
// Messages follow stencil/v1/render.proto by default; clients calling with
// content subtype "cbor" get Codec instead.
var RenderServiceDesc = grpc.ServiceDesc{
	ServiceName: RenderServiceName,
	HandlerType: (*renderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTemplates", Handler: listTemplatesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Render", Handler: renderHandler, ServerStreams: true},
	},
	Metadata: RenderProtoPath,
}

func listTemplatesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListTemplatesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(renderServer).listTemplates(), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListTemplatesProcedure}
	return interceptor(ctx, in, info, call)
}

func renderHandler(srv any, stream grpc.ServerStream) error {
	in := new(RenderRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	id := uuid.NewString()
	if err := stream.SetHeader(metadata.Pairs(requestIDKey, id)); err != nil {
		return err
	}
	err := srv.(renderServer).render(stream.Context(), id, in, func(res *RenderResponse) error {
		return stream.SendMsg(res)
	})
	return grpcError(err)
}

// grpcError converts a *connect.Error into a gRPC status. Connect codes
// share their numbering with gRPC.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return err
}
