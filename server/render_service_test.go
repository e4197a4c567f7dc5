package server

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/chazu/stencil/compiler"
	"github.com/chazu/stencil/store"
	"github.com/chazu/stencil/templates"
)

// ---------------------------------------------------------------------------
// Shared fixtures
// ---------------------------------------------------------------------------

func testSet(t *testing.T) *templates.Set {
	t.Helper()
	set, err := templates.FromSources(map[string]string{
		"list":     "<?for x in data?><?render item(x)?><?end?>",
		"item":     "[<?print data?>]",
		"fails":    "ok<?print data // 0?>",
		"greeting": "Hello <?print data['name']?>!",
	}, templates.WithWarnings(func(string, compiler.Warning) {}))
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func encodeData(t *testing.T, v any) cbor.RawMessage {
	t.Helper()
	data, err := cbor.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newConnectClients(t *testing.T, s *StencilServer) (*connect.Client[RenderRequest, RenderResponse], *connect.Client[ListTemplatesRequest, ListTemplatesResponse]) {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	render := connect.NewClient[RenderRequest, RenderResponse](srv.Client(), srv.URL+RenderProcedure, connect.WithCodec(Codec{}))
	list := connect.NewClient[ListTemplatesRequest, ListTemplatesResponse](srv.Client(), srv.URL+ListTemplatesProcedure, connect.WithCodec(Codec{}))
	return render, list
}

func collect(t *testing.T, client *connect.Client[RenderRequest, RenderResponse], req *RenderRequest) ([]string, string, error) {
	t.Helper()
	stream, err := client.CallServerStream(context.Background(), connect.NewRequest(req))
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()
	var chunks []string
	for stream.Receive() {
		chunks = append(chunks, stream.Msg().Text)
	}
	return chunks, stream.ResponseHeader().Get(RequestIDHeader), stream.Err()
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestConnectRender(t *testing.T) {
	client, _ := newConnectClients(t, New(testSet(t)))

	chunks, id, err := collect(t, client, &RenderRequest{Template: "list", Data: encodeData(t, []int{1, 2})})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(chunks, "") != "[1][2]" || len(chunks) != 6 {
		t.Errorf("chunks = %q", chunks)
	}
	if len(id) != 36 {
		t.Errorf("request id header = %q", id)
	}
}

func TestConnectRenderMapData(t *testing.T) {
	client, _ := newConnectClients(t, New(testSet(t)))
	chunks, _, err := collect(t, client, &RenderRequest{
		Template: "greeting",
		Data:     encodeData(t, map[string]string{"name": "Ada"}),
	})
	if err != nil || strings.Join(chunks, "") != "Hello Ada!" {
		t.Errorf("chunks = %q, %v", chunks, err)
	}
}

func TestConnectRenderSource(t *testing.T) {
	cache, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()
	client, _ := newConnectClients(t, New(testSet(t), WithCache(cache)))

	for i := 0; i < 2; i++ {
		chunks, _, err := collect(t, client, &RenderRequest{Source: "<?render item(data + 1)?>", Data: encodeData(t, 41)})
		if err != nil || strings.Join(chunks, "") != "[42]" {
			t.Errorf("chunks = %q, %v", chunks, err)
		}
	}
	if n, _ := cache.Len(context.Background()); n != 1 {
		t.Errorf("cache holds %d programs, want 1", n)
	}
}

func TestConnectRenderErrors(t *testing.T) {
	client, _ := newConnectClients(t, New(testSet(t)))

	tests := []struct {
		name   string
		req    *RenderRequest
		code   connect.Code
		chunks string
	}{
		{"unknown template", &RenderRequest{Template: "nope"}, connect.CodeNotFound, ""},
		{"parse error", &RenderRequest{Source: "<?if x?>"}, connect.CodeInvalidArgument, ""},
		{"bad data", &RenderRequest{Template: "item", Data: encodeData(t, uint64(math.MaxUint64))}, connect.CodeInvalidArgument, ""},
		{"empty", &RenderRequest{}, connect.CodeInvalidArgument, ""},
		{"both", &RenderRequest{Template: "item", Source: "x"}, connect.CodeInvalidArgument, ""},
		{"run-time error", &RenderRequest{Template: "fails", Data: encodeData(t, 1)}, connect.CodeAborted, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, _, err := collect(t, client, tt.req)
			if connect.CodeOf(err) != tt.code {
				t.Errorf("code = %v (%v), want %v", connect.CodeOf(err), err, tt.code)
			}
			if got := strings.Join(chunks, ""); got != tt.chunks {
				t.Errorf("chunks before the error = %q, want %q", got, tt.chunks)
			}
		})
	}
}

func TestConnectListTemplates(t *testing.T) {
	_, list := newConnectClients(t, New(testSet(t)))
	res, err := list.CallUnary(context.Background(), connect.NewRequest(&ListTemplatesRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(res.Msg.Names, ","); got != "fails,greeting,item,list" {
		t.Errorf("names = %s", got)
	}
}

func TestNilSetServesSources(t *testing.T) {
	client, list := newConnectClients(t, New(nil))
	chunks, _, err := collect(t, client, &RenderRequest{Source: "<?print 6 * 7?>"})
	if err != nil || strings.Join(chunks, "") != "42" {
		t.Errorf("chunks = %q, %v", chunks, err)
	}
	res, err := list.CallUnary(context.Background(), connect.NewRequest(&ListTemplatesRequest{}))
	if err != nil || len(res.Msg.Names) != 0 {
		t.Errorf("names = %v, %v", res, err)
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

// newGRPCConn connects to s over an in-memory listener. Calls use the codec
// registered for subtype.
func newGRPCConn(t *testing.T, s *StencilServer, subtype string) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.ServeGRPC(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(subtype)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func grpcRender(t *testing.T, conn *grpc.ClientConn, req *RenderRequest) ([]string, metadata.MD, error) {
	t.Helper()
	stream, err := conn.NewStream(context.Background(), &RenderServiceDesc.Streams[0], RenderProcedure)
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.SendMsg(req); err != nil {
		t.Fatal(err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}
	var chunks []string
	for {
		var res RenderResponse
		err := stream.RecvMsg(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			header, _ := stream.Header()
			return chunks, header, err
		}
		chunks = append(chunks, res.Text)
	}
	header, _ := stream.Header()
	return chunks, header, nil
}

func TestGRPCRender(t *testing.T) {
	conn := newGRPCConn(t, New(testSet(t)), codecName)

	chunks, header, err := grpcRender(t, conn, &RenderRequest{Template: "list", Data: encodeData(t, []string{"a"})})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(chunks, "") != "[a]" {
		t.Errorf("chunks = %q", chunks)
	}
	if ids := header.Get(requestIDKey); len(ids) != 1 || len(ids[0]) != 36 {
		t.Errorf("request id metadata = %v", ids)
	}
}

func TestGRPCRenderErrors(t *testing.T) {
	conn := newGRPCConn(t, New(testSet(t)), codecName)

	_, _, err := grpcRender(t, conn, &RenderRequest{Template: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown template: %v", err)
	}

	chunks, _, err := grpcRender(t, conn, &RenderRequest{Template: "fails", Data: encodeData(t, 3)})
	if status.Code(err) != codes.Aborted {
		t.Errorf("run-time error: %v", err)
	}
	if strings.Join(chunks, "") != "ok" {
		t.Errorf("chunks before the error = %q", chunks)
	}
}

func TestGRPCListTemplates(t *testing.T) {
	conn := newGRPCConn(t, New(testSet(t)), codecName)
	var res ListTemplatesResponse
	if err := conn.Invoke(context.Background(), ListTemplatesProcedure, &ListTemplatesRequest{}, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Names) != 4 {
		t.Errorf("names = %v", res.Names)
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	if grpcError(nil) != nil {
		t.Error("nil error should stay nil")
	}
	err := grpcError(connect.NewError(connect.CodeInvalidArgument, errors.New("bad")))
	if st, _ := status.FromError(err); st.Code() != codes.InvalidArgument || st.Message() != "bad" {
		t.Errorf("status = %v", st)
	}
	plain := errors.New("plain")
	if grpcError(plain) != plain {
		t.Error("non-connect errors pass through")
	}
}
