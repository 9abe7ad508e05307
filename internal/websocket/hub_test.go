package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	hub.Start()
	srv := httptest.NewServer(ServeWS(hub, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Stop(context.Background())
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *gorilla.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_ConnectAndBroadcast(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	hello := readJSON(t, conn)
	assert.Equal(t, TypeConnection, hello["type"])
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastUpdate(TypeOperationSnapshot, "", "", map[string]interface{}{"id": "run-1"})
	msg := readJSON(t, conn)
	assert.Equal(t, TypeOperationSnapshot, msg["type"])
	assert.Equal(t, "run-1", msg["data"].(map[string]interface{})["id"])
	assert.NotContains(t, msg, "step")

	hub.BroadcastUpdate("operation:progress", "collapse", "running", nil)
	msg = readJSON(t, conn)
	assert.Equal(t, "collapse", msg["step"])
	assert.Equal(t, "running", msg["status"])

	stats := hub.Stats()
	assert.Equal(t, 1, stats.ActiveClients)
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.GreaterOrEqual(t, stats.MessagesSent, int64(2))
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Stop(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readJSON(t, conn)

	require.NoError(t, hub.Stop(context.Background()))
	require.NoError(t, hub.Stop(context.Background()))
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting after Stop is dropped silently.
	hub.BroadcastUpdate(TypeOperationSnapshot, "", "", nil)
}

func TestHub_NotStarted(t *testing.T) {
	hub := NewHub(nil)
	hub.BroadcastUpdate(TypeOperationSnapshot, "", "", map[string]string{"id": "x"})
	assert.Equal(t, Stats{}, hub.Stats())
	assert.NoError(t, hub.Stop(context.Background()))

	hub.Start()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_UnmarshalableMessage(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })

	hub.BroadcastJSON(map[string]interface{}{"type": "bad", "data": make(chan int)})
	assert.Equal(t, int64(0), hub.Stats().MessagesDropped)
}
