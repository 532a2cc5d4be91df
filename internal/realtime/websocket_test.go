package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer accepts one token, expects a join, then pushes one task:sync
// event. Connections with token "revoked" are closed with 4401.
func echoServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got != token && got != "revoked" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+got {
			http.Error(w, "missing header", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if got == "revoked" {
			msg := websocket.FormatCloseMessage(CloseAuthRejected, "token revoked")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		var join Event
		if err := ws.ReadJSON(&join); err != nil || join.Event != EventJoinProject {
			return
		}
		_ = ws.WriteJSON(map[string]any{
			"event": EventTaskSync,
			"data": TaskSync{
				Type:   SyncCreated,
				Task:   models.Task{ID: "srv-9", Title: "Remote"},
				UserID: "someone-else",
			},
		})
		// hold the connection until the client leaves
		_, _, _ = ws.ReadMessage()
	}))
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	srv := echoServer(t, "good")
	defer srv.Close()
	wsURL, err := WebSocketURL(srv.URL, "")
	require.NoError(t, err)

	events := make(chan TaskSync, 1)
	ch := New(Config{
		Dialer:  &WebSocketDialer{URL: wsURL, Token: func() string { return "good" }},
		Actor:   "me",
		OnEvent: func(ts TaskSync) { events <- ts },
	})
	require.NoError(t, ch.SetProject("p1"))
	ch.Connect(context.Background())
	defer ch.Disconnect()

	select {
	case ts := <-events:
		assert.Equal(t, "srv-9", ts.Task.ID)
		assert.Equal(t, SyncCreated, ts.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("expected task:sync from server")
	}
}

func TestWebSocketDialerAuthFailures(t *testing.T) {
	srv := echoServer(t, "good")
	defer srv.Close()
	wsURL, err := WebSocketURL(srv.URL, "")
	require.NoError(t, err)

	t.Run("handshake 401", func(t *testing.T) {
		d := &WebSocketDialer{URL: wsURL, Token: func() string { return "bad" }}
		_, err := d.Dial(context.Background())
		assert.ErrorIs(t, err, ErrAuthRejected)
	})

	t.Run("close 4401", func(t *testing.T) {
		d := &WebSocketDialer{URL: wsURL, Token: func() string { return "revoked" }}
		conn, err := d.Dial(context.Background())
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.ReadEvent()
		assert.ErrorIs(t, err, ErrAuthRejected)
	})
}
