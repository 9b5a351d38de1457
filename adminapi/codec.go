// Package adminapi exposes admin.Service over gRPC as the internal
// operator surface SPEC_FULL.md §6 names (SubmitProposal, GetCircuit,
// ListProposals, StreamEvents): the teacher's own client protocol is
// capnproto framed directly over TCP (network/protocols.go), which has
// no operator-tooling analogue worth copying here, so this package is
// grounded instead on the pack's grpcutils.NewServer/Dial shape
// (plain *grpc.Server, insecure transport credentials) and hand-writes
// the grpc.ServiceDesc a protoc-gen-go-grpc pass would otherwise emit,
// since no protobuf code generator runs as part of this build.
//
// Messages are plain Go structs (not protobuf-generated types) carried
// over a JSON wire codec registered under the "proto" content-subtype,
// so a default grpc.Dial client needs no special codec negotiation.
package adminapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec marshals gRPC messages as JSON. Registering it under the
// name "proto" overrides grpc's built-in protobuf codec for this
// process, since our message types carry no generated marshal/unmarshal
// methods.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
