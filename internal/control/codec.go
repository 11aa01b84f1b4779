package control

import "encoding/json"

// jsonCodec is a grpc encoding.Codec that marshals messages as JSON instead
// of protobuf wire format. The control plane never generates .proto/.pb.go
// artifacts; forcing this codec on both server and client lets it still
// speak real gRPC (framing, streaming, status codes, health checking) over
// plain JSON payloads.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
