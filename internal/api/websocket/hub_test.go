package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticValidator struct{ token string }

func (v staticValidator) ValidateToken(token string) (*auth.JWTClaims, []auth.Permission, error) {
	if token != v.token {
		return nil, nil, auth.ErrInvalidToken
	}
	return &auth.JWTClaims{Username: "admin"}, []auth.Permission{auth.PermOperator}, nil
}

type received struct {
	Type       MessageType `json:"type"`
	TotalCount *int        `json:"total_count"`
}

func startHub(t *testing.T, snapshot SnapshotFunc) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), staticValidator{token: "good"}, snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readType(t *testing.T, conn *gws.Conn) received {
	t.Helper()
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_AuthSnapshotAndBroadcast(t *testing.T) {
	snapshot := func(ctx context.Context) ([]storage.PadStatus, error) {
		return []storage.PadStatus{{PadCode: "D1"}, {PadCode: "D2"}}, nil
	}
	hub, url := startHub(t, snapshot)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeAuth, Token: "good"}))
	assert.Equal(t, MessageTypeAuthSuccess, readType(t, conn).Type)

	full := readType(t, conn)
	assert.Equal(t, MessageTypeStatusUpdate, full.Type)
	require.NotNil(t, full.TotalCount)
	assert.Equal(t, 2, *full.TotalCount)
	assert.Equal(t, 1, hub.GetClientCount())

	hub.PublishStatus(storage.PadStatus{PadCode: "D1", CurrentStatus: "installing"})
	assert.Equal(t, MessageTypeSingleStatusUpdate, readType(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeRequestFullUpdate}))
	assert.Equal(t, MessageTypeStatusUpdate, readType(t, conn).Type)
}

func TestHub_RejectsBadAuth(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
	}{
		{"not auth first", ClientMessage{Type: MessageTypeSubscribeStatus}},
		{"missing token", ClientMessage{Type: MessageTypeAuth}},
		{"wrong token", ClientMessage{Type: MessageTypeAuth, Token: "bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, url := startHub(t, nil)
			conn := dial(t, url)

			require.NoError(t, conn.WriteJSON(tt.msg))
			assert.Equal(t, MessageTypeAuthFailed, readType(t, conn).Type)

			// the server closes the connection after auth_failed
			var msg received
			assert.Error(t, conn.ReadJSON(&msg))
			assert.Zero(t, hub.GetClientCount())
		})
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeAuth, Token: "good"}))
	readType(t, conn)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
