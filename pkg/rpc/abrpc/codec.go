// Package abrpc holds the wire messages and gRPC service descriptors of the
// Andar Bahar server. Messages are plain Go structs carried by a JSON codec
// registered under the "json" content subtype.
package abrpc

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype the services are served with.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallOption selects the JSON codec for a call. Typed clients add it to
// every call.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
