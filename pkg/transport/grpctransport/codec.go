package grpctransport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec with plain JSON marshalling, so the
// service can exchange Go structs over google.golang.org/grpc without
// protoc-generated message types. Wire encoding is a per-deployment choice;
// this package only needs a working client/server pair of its own.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
