package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/sample"
)

func TestHub_BroadcastsLatestAfterIngest(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.Hub.Run(ctx)

	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, ts.Hub.HasClients, 2*time.Second, 10*time.Millisecond)

	ingest(t, ts, sample.Repeater, march1, map[string]any{"bat": 3900})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var update LatestUpdate
	require.NoError(t, json.Unmarshal(raw, &update))
	require.Equal(t, "latest", update.Type)
	require.Equal(t, sample.Repeater, update.Record.Role)
	require.Equal(t, 3900.0, update.Record.Values["bat"])
}

func TestHub_BroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.BroadcastLatest(&sample.Record{Timestamp: 1, Role: sample.Companion})
	hub.BroadcastLatest(nil)
	require.Empty(t, hub.broadcast)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/ws"
	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 403, resp.StatusCode)
}

// closedConns returns n client connections that are already closed, so any
// write to them fails
func closedConns(t *testing.T, n int) []*websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
		conns[i] = conn
	}
	return conns
}

func TestHub_ManyFailedWritesDoNotStallRun(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	dead := closedConns(t, config.WSChannelBuffer+2)
	hub.mu.Lock()
	for _, conn := range dead {
		hub.clients[conn] = true
	}
	hub.mu.Unlock()

	hub.broadcast <- []byte(`{"type":"latest"}`)
	require.Eventually(t, func() bool { return !hub.HasClients() }, 2*time.Second, 10*time.Millisecond)

	// Run must still be draining register after dropping the failed clients
	for i, conn := range closedConns(t, config.WSChannelBuffer+1) {
		select {
		case hub.register <- conn:
		case <-time.After(2 * time.Second):
			t.Fatalf("register %d blocked", i)
		}
	}
	require.Eventually(t, hub.HasClients, 2*time.Second, 10*time.Millisecond)
}

func TestHub_HandlerDoesNotBlockAfterRunStops(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		hub.HandleWebSocket(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked on a hub that is no longer running")
	}
	require.False(t, hub.HasClients())
}
