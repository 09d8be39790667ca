// Package grpctransport is the reference transport.Transport implementation
// over google.golang.org/grpc. It hand-authors a grpc.ServiceDesc and pairs
// it with a JSON encoding.Codec instead of protoc-generated stubs, since
// the wire format is the server's concern and this repo only needs a
// working client/server pair for its own tests and deployments.
package grpctransport
