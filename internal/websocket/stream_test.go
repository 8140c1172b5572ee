package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c2afuzz/c2afuzz/internal/logging"
)

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStreamReplaysHistoryThenFollows(t *testing.T) {
	b := logging.NewBroadcaster(4)
	_, _ = b.Write([]byte("[EXEC] listening on 0.0.0.0:3000\n"))

	srv := httptest.NewServer(NewStream(b, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv)
	require.NoError(t, err)
	defer conn.Close()

	history := readMessage(t, conn)
	assert.Equal(t, TypeHistory, history["type"])
	assert.Equal(t, []any{"[EXEC] listening on 0.0.0.0:3000\n"}, history["data"])

	_, _ = b.Write([]byte("[EXEC] result=SUC\n"))
	out := readMessage(t, conn)
	assert.Equal(t, TypeOutput, out["type"])
	assert.Equal(t, "[EXEC] result=SUC\n", out["data"])
	assert.Equal(t, 1, b.Subscribers())
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	b := logging.NewBroadcaster(4)
	srv := httptest.NewServer(NewStream(b, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv)
	require.NoError(t, err)
	readMessage(t, conn)
	require.Equal(t, 1, b.Subscribers())

	conn.Close()
	assert.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamClosesWhenBroadcasterShutsDown(t *testing.T) {
	b := logging.NewBroadcaster(4)
	srv := httptest.NewServer(NewStream(b, nil))
	defer srv.Close()

	conn, _, err := dial(t, srv)
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)

	b.Shutdown()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStreamRejectsUntrustedNetwork(t *testing.T) {
	b := logging.NewBroadcaster(4)
	srv := httptest.NewServer(NewStream(b, []string{"10.0.0.0/8"}))
	defer srv.Close()

	_, resp, err := dial(t, srv)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, b.Subscribers())
}
