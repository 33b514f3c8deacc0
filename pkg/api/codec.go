package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as "proto" — the name grpc-go falls back to
// whenever a call sets no content-subtype — so every RPC on this
// service speaks JSON over the wire without either side needing to
// opt in via grpc.CallContentSubtype. There are no .proto-generated
// messages anywhere in this service for the real protobuf codec to
// encode.
const codecName = "proto"

// jsonCodec implements encoding.Codec (formerly encoding.Codec /
// grpc.Codec) over plain JSON, standing in for the protoc-generated
// protobuf codec grpc normally registers by default.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
