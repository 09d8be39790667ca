package grpctransport_test

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/ripple/pkg/transport"
	"github.com/cuemby/ripple/pkg/transport/grpctransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transportFetchReq() transport.FetchRequest {
	return transport.FetchRequest{TableName: "todos", PageSize: 10}
}

func countReq() transport.CountRequest {
	return transport.CountRequest{TableName: "todos"}
}

func rawRow() transport.RawRow {
	return transport.RawRow{ID: "1", Data: []byte(`{"v":1}`)}
}

// echoServer is a minimal grpctransport.Server used only to exercise the
// hand-rolled ServiceDesc and json codec over a real grpc.Server.
type echoServer struct {
	upserted []grpctransport.UpsertRequest
}

func (s *echoServer) FetchPage(ctx context.Context, req *grpctransport.FetchPageRequest) (*grpctransport.FetchPageResponse, error) {
	return &grpctransport.FetchPageResponse{
		Rows: []grpctransport.WireRow{{ID: "1", Data: []byte(`{"v":1}`)}},
	}, nil
}

func (s *echoServer) FetchIncremental(ctx context.Context, req *grpctransport.FetchIncrementalRequest) (*grpctransport.FetchPageResponse, error) {
	return &grpctransport.FetchPageResponse{}, nil
}

func (s *echoServer) Count(ctx context.Context, req *grpctransport.CountRequest) (*grpctransport.CountResponse, error) {
	return &grpctransport.CountResponse{Count: 42}, nil
}

func (s *echoServer) Upsert(ctx context.Context, req *grpctransport.UpsertRequest) (*grpctransport.WireRow, error) {
	s.upserted = append(s.upserted, *req)
	return &req.Row, nil
}

func (s *echoServer) Delete(ctx context.Context, req *grpctransport.DeleteRequest) (*grpctransport.DeleteResponse, error) {
	return &grpctransport.DeleteResponse{}, nil
}

func (s *echoServer) Subscribe(req *grpctransport.SubscribeRequest, stream grpctransport.SubscribeServer) error {
	return stream.Send(&grpctransport.PushEvent{TableName: "todos", RowID: "1"})
}

func startTestServer(t *testing.T, impl grpctransport.Server) (*grpctransport.Client, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	grpctransport.RegisterServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	return grpctransport.NewClient(conn), func() {
		srv.Stop()
		_ = conn.Close()
	}
}

func TestFetchPageRoundTrip(t *testing.T) {
	client, stop := startTestServer(t, &echoServer{})
	defer stop()

	resp, err := client.FetchPage(context.Background(), transportFetchReq())
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "1", resp.Rows[0].ID)
}

func TestCountRoundTrip(t *testing.T) {
	client, stop := startTestServer(t, &echoServer{})
	defer stop()

	count, err := client.Count(context.Background(), countReq())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestUpsertRoundTrip(t *testing.T) {
	impl := &echoServer{}
	client, stop := startTestServer(t, impl)
	defer stop()

	row, err := client.Upsert(context.Background(), "todos", rawRow())
	require.NoError(t, err)
	assert.Equal(t, "1", row.ID)
	assert.Len(t, impl.upserted, 1)
}
