package server

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// RenderProtoPath is the import path of the render service schema.
const RenderProtoPath = "stencil/v1/render.proto"

//go:embed stencil/v1/render.proto
var renderProto string

// RenderFile describes the render service schema. It is registered with
// protoregistry.GlobalFiles, which gRPC reflection serves from.
var RenderFile protoreflect.FileDescriptor

var (
	renderRequestDesc         protoreflect.MessageDescriptor
	renderResponseDesc        protoreflect.MessageDescriptor
	listTemplatesRequestDesc  protoreflect.MessageDescriptor
	listTemplatesResponseDesc protoreflect.MessageDescriptor
)

func init() {
	fd, err := loadRenderFile()
	if err != nil {
		panic(fmt.Sprintf("server: %v", err))
	}
	RenderFile = fd

	msgs := fd.Messages()
	renderRequestDesc = msgs.ByName("RenderRequest")
	renderResponseDesc = msgs.ByName("RenderResponse")
	listTemplatesRequestDesc = msgs.ByName("ListTemplatesRequest")
	listTemplatesResponseDesc = msgs.ByName("ListTemplatesResponse")

	encoding.RegisterCodec(ProtoCodec{})
}

// loadRenderFile parses the embedded schema and links it against the
// well-known types compiled into the binary.
func loadRenderFile() (protoreflect.FileDescriptor, error) {
	parser := protoparse.Parser{
		Accessor:     protoparse.FileContentsFromMap(map[string]string{RenderProtoPath: renderProto}),
		LookupImport: desc.LoadFileDescriptor,
	}
	fds, err := parser.ParseFiles(RenderProtoPath)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", RenderProtoPath, err)
	}
	fd, err := protodesc.NewFile(fds[0].AsFileDescriptorProto(), protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("linking %s: %w", RenderProtoPath, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("registering %s: %w", RenderProtoPath, err)
	}
	return fd, nil
}

// ---------------------------------------------------------------------------
// Codecs
// ---------------------------------------------------------------------------

// protoMessage maps a render service message onto its schema type.
type protoMessage interface {
	protoDescriptor() protoreflect.MessageDescriptor
	toProto(m protoreflect.Message) error
	fromProto(m protoreflect.Message) error
}

// ProtoCodec marshals render service messages in the protobuf binary
// format of stencil/v1/render.proto. Generated protobuf messages pass
// through unchanged, so it can stand in for gRPC's default codec.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	m, err := toProto(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(m)
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	return fromProto(v, func(m proto.Message) error { return proto.Unmarshal(data, m) })
}

// JSONCodec marshals render service messages as protobuf JSON, for Connect
// clients posting application/json.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	m, err := toProto(v)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(m)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return fromProto(v, func(m proto.Message) error { return protojson.Unmarshal(data, m) })
}

func toProto(v any) (proto.Message, error) {
	switch v := v.(type) {
	case protoMessage:
		m := dynamicpb.NewMessage(v.protoDescriptor())
		if err := v.toProto(m); err != nil {
			return nil, err
		}
		return m, nil
	case protoadapt.MessageV2:
		return v, nil
	case protoadapt.MessageV1:
		return protoadapt.MessageV2Of(v), nil
	}
	return nil, fmt.Errorf("cannot marshal %T as a protobuf message", v)
}

func fromProto(v any, decode func(proto.Message) error) error {
	switch v := v.(type) {
	case protoMessage:
		m := dynamicpb.NewMessage(v.protoDescriptor())
		if err := decode(m); err != nil {
			return err
		}
		return v.fromProto(m)
	case protoadapt.MessageV2:
		return decode(v)
	case protoadapt.MessageV1:
		return decode(protoadapt.MessageV2Of(v))
	}
	return fmt.Errorf("cannot unmarshal %T as a protobuf message", v)
}

// ---------------------------------------------------------------------------
// Message mappings
// ---------------------------------------------------------------------------

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

func setString(m protoreflect.Message, name protoreflect.Name, s string) {
	if s != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(s))
	}
}

func (*RenderRequest) protoDescriptor() protoreflect.MessageDescriptor { return renderRequestDesc }

func (r *RenderRequest) toProto(m protoreflect.Message) error {
	setString(m, "template", r.Template)
	setString(m, "source", r.Source)
	if len(r.Data) == 0 {
		return nil
	}
	v, err := cborToStruct(r.Data)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	b, err := proto.Marshal(v)
	if err != nil {
		return err
	}
	return proto.Unmarshal(b, m.Mutable(field(m, "data")).Message().Interface())
}

func (r *RenderRequest) fromProto(m protoreflect.Message) error {
	r.Template = m.Get(field(m, "template")).String()
	r.Source = m.Get(field(m, "source")).String()
	r.Data = nil

	fd := field(m, "data")
	if !m.Has(fd) {
		return nil
	}
	b, err := proto.Marshal(m.Get(fd).Message().Interface())
	if err != nil {
		return err
	}
	var v structpb.Value
	if err := proto.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	data, err := encMode.Marshal(structToGo(&v))
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	r.Data = data
	return nil
}

func (*RenderResponse) protoDescriptor() protoreflect.MessageDescriptor { return renderResponseDesc }

func (r *RenderResponse) toProto(m protoreflect.Message) error {
	setString(m, "text", r.Text)
	return nil
}

func (r *RenderResponse) fromProto(m protoreflect.Message) error {
	r.Text = m.Get(field(m, "text")).String()
	return nil
}

func (*ListTemplatesRequest) protoDescriptor() protoreflect.MessageDescriptor {
	return listTemplatesRequestDesc
}

func (*ListTemplatesRequest) toProto(protoreflect.Message) error   { return nil }
func (*ListTemplatesRequest) fromProto(protoreflect.Message) error { return nil }

func (*ListTemplatesResponse) protoDescriptor() protoreflect.MessageDescriptor {
	return listTemplatesResponseDesc
}

func (r *ListTemplatesResponse) toProto(m protoreflect.Message) error {
	if len(r.Names) == 0 {
		return nil
	}
	list := m.Mutable(field(m, "names")).List()
	for _, name := range r.Names {
		list.Append(protoreflect.ValueOfString(name))
	}
	return nil
}

func (r *ListTemplatesResponse) fromProto(m protoreflect.Message) error {
	list := m.Get(field(m, "names")).List()
	r.Names = make([]string, list.Len())
	for i := range r.Names {
		r.Names[i] = list.Get(i).String()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Data conversion
// ---------------------------------------------------------------------------

// maxExactInt is the largest magnitude up to which every integer is a
// float64.
const maxExactInt = 1 << 53

// structToGo converts a google.protobuf.Value into the plain Go values the
// CBOR encoder writes. Integral numbers become int64.
func structToGo(v *structpb.Value) any {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		x := k.NumberValue
		if x == math.Trunc(x) && math.Abs(x) <= maxExactInt {
			return int64(x)
		}
		return x
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for key, f := range fields {
			out[key] = structToGo(f)
		}
		return out
	case *structpb.Value_ListValue:
		items := k.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = structToGo(item)
		}
		return out
	}
	return nil
}

// cborToStruct converts CBOR data into a google.protobuf.Value. Map keys
// must be strings.
func cborToStruct(data cbor.RawMessage) (*structpb.Value, error) {
	var x any
	if err := cbor.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	x, err := stringKeys(x)
	if err != nil {
		return nil, err
	}
	return structpb.NewValue(x)
}

func stringKeys(x any) (any, error) {
	switch x := x.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", k)
			}
			v, err := stringKeys(v)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			v, err := stringKeys(v)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return x, nil
}
