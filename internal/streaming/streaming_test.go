package streaming

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type memReader struct {
	mu   sync.Mutex
	recs map[string]storage.PadStatus
}

func (m *memReader) Get(ctx context.Context, padCode string) (*storage.PadStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[padCode]
	if !ok {
		return nil, storage.ErrStatusNotFound
	}
	return &rec, nil
}

func (m *memReader) List(ctx context.Context) ([]storage.PadStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.PadStatus
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out, nil
}

type staticValidator struct{}

func (staticValidator) ValidateToken(token string) (*auth.JWTClaims, []auth.Permission, error) {
	if token != "good" {
		return nil, nil, auth.ErrInvalidToken
	}
	return &auth.JWTClaims{Username: "admin"}, []auth.Permission{auth.PermOperator}, nil
}

func TestEventStreamer_RoutesByPad(t *testing.T) {
	s := NewEventStreamer()
	d1 := s.Subscribe("D1")
	all := s.Subscribe(AllPads)

	s.PublishStatus(storage.PadStatus{PadCode: "D2", CurrentStatus: "x"})
	s.PublishStatus(storage.PadStatus{PadCode: "D1", CurrentStatus: "y"})

	assert.Equal(t, "y", (<-d1).CurrentStatus)
	assert.Equal(t, "x", (<-all).CurrentStatus)
	assert.Equal(t, "y", (<-all).CurrentStatus)
	assert.Len(t, d1, 0)

	s.Unsubscribe("D1", d1)
	_, open := <-d1
	assert.False(t, open)
	assert.Equal(t, 1, s.SubscriberCount())

	s.CloseAll()
	_, open = <-all
	assert.False(t, open)
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestEventStreamer_FullSubscriberDoesNotBlock(t *testing.T) {
	s := NewEventStreamer()
	ch := s.Subscribe("D1")
	for range 150 {
		s.PublishStatus(storage.PadStatus{PadCode: "D1"})
	}
	assert.Len(t, ch, 100)
}

func startServer(t *testing.T, reader StatusReader) (*EventStreamer, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	streamer := NewEventStreamer()

	srv := grpc.NewServer(ServerOptions(staticValidator{})...)
	NewStatusService(streamer, reader, zap.NewNop()).Register(srv)
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		streamer.CloseAll()
		srv.Stop()
	})
	return streamer, conn
}

func authed(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer good")
}

func watch(t *testing.T, ctx context.Context, conn *grpc.ClientConn, padCode string) grpc.ClientStream {
	t.Helper()
	stream, err := conn.NewStream(ctx, &StatusServiceDesc.Streams[0], WatchStatusMethod)
	require.NoError(t, err)
	req, err := structpb.NewStruct(map[string]any{"pad_code": padCode})
	require.NoError(t, err)
	// a rejected stream may already be closed; the status shows up on RecvMsg
	if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	require.NoError(t, stream.CloseSend())
	return stream
}

func TestWatchStatus_SnapshotThenUpdates(t *testing.T) {
	reader := &memReader{recs: map[string]storage.PadStatus{
		"D1": {PadCode: "D1", CurrentStatus: "provisioning", RunCount: 1},
	}}
	streamer, conn := startServer(t, reader)

	ctx, cancel := context.WithTimeout(authed(context.Background()), 5*time.Second)
	defer cancel()
	stream := watch(t, ctx, conn, "D1")

	first := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(first))
	assert.Equal(t, "provisioning", first.Fields["current_status"].GetStringValue())
	assert.Equal(t, 1.0, first.Fields["run_count"].GetNumberValue())

	streamer.PublishStatus(storage.PadStatus{PadCode: "D2", CurrentStatus: "other pad"})
	streamer.PublishStatus(storage.PadStatus{PadCode: "D1", CurrentStatus: "app started"})

	next := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(next))
	assert.Equal(t, "app started", next.Fields["current_status"].GetStringValue())
	assert.Equal(t, "D1", next.Fields["pad_code"].GetStringValue())
}

func TestWatchStatus_RequiresToken(t *testing.T) {
	_, conn := startServer(t, &memReader{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := watch(t, ctx, conn, AllPads)

	err := stream.RecvMsg(new(structpb.Struct))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGetStatus(t *testing.T) {
	reader := &memReader{recs: map[string]storage.PadStatus{
		"D1": {PadCode: "D1", CurrentStatus: "running"},
	}}
	_, conn := startServer(t, reader)
	ctx, cancel := context.WithTimeout(authed(context.Background()), 5*time.Second)
	defer cancel()

	call := func(pad string) (*structpb.Struct, error) {
		req, err := structpb.NewStruct(map[string]any{"pad_code": pad})
		require.NoError(t, err)
		resp := new(structpb.Struct)
		return resp, conn.Invoke(ctx, GetStatusMethod, req, resp)
	}

	resp, err := call("D1")
	require.NoError(t, err)
	assert.Equal(t, "running", resp.Fields["current_status"].GetStringValue())

	_, err = call("D9")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = call("")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
