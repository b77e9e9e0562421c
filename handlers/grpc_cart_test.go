package handlers

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dialCartDetails(t *testing.T, e *testEnv) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(e.ledger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCartDetailsRPC(t *testing.T) {
	e := newTestEnv(t)
	id := e.createRing(t)
	_, err := e.ledger.AddItem(context.Background(), "u1", id, 2)
	require.NoError(t, err)

	conn := dialCartDetails(t, e)
	client := NewCartDetailsClient(conn)

	out, err := client.GetCartDetails(context.Background(), "u1")
	require.NoError(t, err)
	fields := out.AsMap()
	assert.EqualValues(t, 29292, fields["total_amount"])
	assert.EqualValues(t, 2, fields["item_count"])
	assert.Len(t, fields["lines"], 1)

	_, err = client.GetCartDetails(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	health, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, health.GetStatus())
}
