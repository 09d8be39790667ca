package grpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/cuemby/ripple/pkg/transport"
)

// Client implements transport.Transport over a grpc.ClientConn using
// ServiceDesc's hand-rolled methods and the json codec, rather than
// protoc-generated stubs.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

func method(name string) string {
	return "/" + serviceName + "/" + name
}

func toWireRow(r transport.RawRow) WireRow {
	return WireRow{
		ID:              r.ID,
		UpdatedAtMillis: r.UpdatedAtMillis,
		UpdatedAtMicros: r.UpdatedAtMicros,
		HasMicros:       r.HasMicros,
		Data:            r.Data,
	}
}

func fromWireRow(r WireRow) transport.RawRow {
	return transport.RawRow{
		ID:              r.ID,
		UpdatedAtMillis: r.UpdatedAtMillis,
		UpdatedAtMicros: r.UpdatedAtMicros,
		HasMicros:       r.HasMicros,
		Data:            r.Data,
	}
}

func (c *Client) FetchPage(ctx context.Context, req transport.FetchRequest) (transport.FetchResponse, error) {
	wireReq := &FetchPageRequest{
		TableName: req.TableName,
		Filter:    req.Filter,
		PageToken: req.PageToken,
		PageSize:  req.PageSize,
	}
	resp := new(FetchPageResponse)
	if err := c.conn.Invoke(ctx, method("FetchPage"), wireReq, resp, callOpts()...); err != nil {
		return transport.FetchResponse{}, fmt.Errorf("fetchPage rpc failed: %w", err)
	}

	out := transport.FetchResponse{NextPageToken: resp.NextPageToken}
	for _, r := range resp.Rows {
		out.Rows = append(out.Rows, fromWireRow(r))
	}
	return out, nil
}

func (c *Client) FetchIncremental(ctx context.Context, req transport.IncrementalRequest) (transport.FetchResponse, error) {
	wireReq := &FetchIncrementalRequest{
		TableName:  req.TableName,
		Filter:     req.Filter,
		SinceEpoch: req.Since.UnixMilli(),
	}
	resp := new(FetchPageResponse)
	if err := c.conn.Invoke(ctx, method("FetchIncremental"), wireReq, resp, callOpts()...); err != nil {
		return transport.FetchResponse{}, fmt.Errorf("fetchIncremental rpc failed: %w", err)
	}

	out := transport.FetchResponse{NextPageToken: resp.NextPageToken}
	for _, r := range resp.Rows {
		out.Rows = append(out.Rows, fromWireRow(r))
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context, req transport.CountRequest) (int64, error) {
	wireReq := &CountRequest{
		TableName:  req.TableName,
		Filter:     req.Filter,
		SinceEpoch: req.Since.UnixMilli(),
	}
	resp := new(CountResponse)
	if err := c.conn.Invoke(ctx, method("Count"), wireReq, resp, callOpts()...); err != nil {
		return 0, fmt.Errorf("count rpc failed: %w", err)
	}
	return resp.Count, nil
}

func (c *Client) Upsert(ctx context.Context, tableName string, row transport.RawRow) (transport.RawRow, error) {
	wireReq := &UpsertRequest{TableName: tableName, Row: toWireRow(row)}
	resp := new(WireRow)
	if err := c.conn.Invoke(ctx, method("Upsert"), wireReq, resp, callOpts()...); err != nil {
		return transport.RawRow{}, fmt.Errorf("upsert rpc failed: %w", err)
	}
	return fromWireRow(*resp), nil
}

func (c *Client) Delete(ctx context.Context, tableName, id string) error {
	wireReq := &DeleteRequest{TableName: tableName, ID: id}
	resp := new(DeleteResponse)
	if err := c.conn.Invoke(ctx, method("Delete"), wireReq, resp, callOpts()...); err != nil {
		return fmt.Errorf("delete rpc failed: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, tenantScope string) (<-chan transport.PushEvent, error) {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, method("Subscribe"), callOpts()...)
	if err != nil {
		return nil, fmt.Errorf("subscribe rpc failed: %w", err)
	}

	if err := stream.SendMsg(&SubscribeRequest{TenantScope: tenantScope}); err != nil {
		return nil, fmt.Errorf("subscribe request failed: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("subscribe close-send failed: %w", err)
	}

	out := make(chan transport.PushEvent, 16)
	go func() {
		defer close(out)
		for {
			ev := new(PushEvent)
			if err := stream.RecvMsg(ev); err != nil {
				return
			}
			select {
			case out <- transport.PushEvent{TableName: ev.TableName, RowID: ev.RowID, Deleted: ev.Deleted, Row: fromWireRow(ev.Row)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
