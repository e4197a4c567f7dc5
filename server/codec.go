package server

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype of CBOR messages:
// application/connect+cbor for Connect, application/grpc+cbor for gRPC.
const codecName = "cbor"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encoding.RegisterCodec(Codec{})
}

// Codec marshals render service messages as CBOR. It serves as both a
// connect.Codec and a gRPC encoding.Codec.
type Codec struct{}

func (Codec) Name() string { return codecName }

func (Codec) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// RenderRequest selects a template and supplies its data. Exactly one of
// Template and Source must be set; Source is compiled on the fly and may
// render members of the served set. Data is CBOR whichever codec carried
// the request.
type RenderRequest struct {
	Template string          `cbor:"template,omitempty"`
	Source   string          `cbor:"source,omitempty"`
	Data     cbor.RawMessage `cbor:"data,omitempty"`
}

// RenderResponse carries one chunk of rendered output.
type RenderResponse struct {
	Text string `cbor:"text"`
}

// ListTemplatesRequest is empty.
type ListTemplatesRequest struct{}

// ListTemplatesResponse lists the names of the served templates.
type ListTemplatesResponse struct {
	Names []string `cbor:"names"`
}
