// Package rpcserver implements the gRPC service boundary: a single
// converter goroutine turns engine documents into wire DTOs exactly once,
// per-client stream filtering, and the RunEngine/Hardware/Preset service
// handlers.
//
// Messages travel as plain Go structs over a JSON codec registered with
// grpc-go (encoding.RegisterCodec), rather than protoc-generated types:
// no .proto file or generated stub is required to add a new RPC.
package rpcserver

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

const codecName = "json"

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonCodec implements encoding.Codec by delegating to json-iterator,
// letting every hand-authored service use plain Go structs as gRPC
// messages instead of protobuf-generated ones.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return wireJSON.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return wireJSON.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
