package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	"github.com/zhouzirui/onthisday/backend/internal/reveal"
	chatservice "github.com/zhouzirui/onthisday/backend/internal/service/chat"
	"github.com/zhouzirui/onthisday/backend/internal/store"
)

type replyTransport struct {
	text string
}

func (t replyTransport) Chat(context.Context, chat.Envelope) (string, error) {
	return t.text, nil
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// gatedTransport holds every request until release is closed.
type gatedTransport struct {
	release chan struct{}
	replyTransport
}

func (t gatedTransport) Chat(ctx context.Context, env chat.Envelope) (string, error) {
	select {
	case <-t.release:
	case <-ctx.Done():
		return "", &chat.TransportError{Err: ctx.Err()}
	}
	return t.replyTransport.Chat(ctx, env)
}

func startServer(t *testing.T, st store.Store) *httptest.Server {
	return startServerWith(t, st, replyTransport{text: "1969: Apollo 11 lands on the Moon."})
}

func startServerWith(t *testing.T, st store.Store, transport chatservice.Transport) *httptest.Server {
	t.Helper()
	opts := chatservice.Options{
		Retry:  chatservice.RetryPolicy{Attempts: 1},
		Reveal: reveal.Config{Tick: 5 * time.Millisecond, Chunk: 4, Settle: time.Millisecond},
	}
	opts.Logger = zaptest.NewLogger(t)
	registry := chatservice.NewRegistry(st, transport, opts)
	h := New(registry, opts.Logger)

	r := chi.NewRouter()
	r.Route("/sessions", h.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sessionID + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestLiveSessionSubmitStreamsStateUntilIdle(t *testing.T) {
	st := store.NewMemoryStore()
	session := chat.NewSession(time.Now())
	require.NoError(t, st.Put(context.Background(), session))

	conn := dial(t, startServer(t, st), session.ID)

	first := readFrame(t, conn)
	require.Equal(t, "state", first.Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "submit", Content: "What happened on July 20 in history?"}))

	sawRevealing := false
	for {
		f := readFrame(t, conn)
		require.Equal(t, "state", f.Type)

		var snap chatservice.Snapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		if snap.Phase == chatservice.PhaseRevealing {
			sawRevealing = true
		}
		if snap.Phase == chatservice.PhaseIdle && len(snap.Session.Messages) == 2 {
			assert.Equal(t, "1969: Apollo 11 lands on the Moon.", snap.Session.Messages[1].Content)
			assert.Equal(t, "July 20", snap.Session.Title)
			break
		}
	}
	assert.True(t, sawRevealing)

	require.Eventually(t, func() bool {
		stored, err := st.Get(context.Background(), session.ID)
		return err == nil && len(stored.Messages) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestLiveSessionReportsErrors(t *testing.T) {
	st := store.NewMemoryStore()
	session := chat.NewSession(time.Now())
	require.NoError(t, st.Put(context.Background(), session))

	conn := dial(t, startServer(t, st), session.ID)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "retry"}))
	f := readFrame(t, conn)
	require.Equal(t, "error", f.Type)
	assert.JSONEq(t, `{"message":"no previous query to retry"}`, string(f.Data))

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "dance"}))
	f = readFrame(t, conn)
	require.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), "unknown message type")
}

func TestLiveSessionUnknownSession(t *testing.T) {
	srv := startServer(t, store.NewMemoryStore())

	resp, err := http.Get(srv.URL + "/sessions/missing/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveConnectionsShareOneController(t *testing.T) {
	st := store.NewMemoryStore()
	session := chat.NewSession(time.Now())
	require.NoError(t, st.Put(context.Background(), session))

	gate := gatedTransport{release: make(chan struct{}), replyTransport: replyTransport{text: "1969: Apollo 11 lands on the Moon."}}
	srv := startServerWith(t, st, gate)
	first := dial(t, srv, session.ID)
	second := dial(t, srv, session.ID)
	readFrame(t, first)
	readFrame(t, second)

	require.NoError(t, first.WriteJSON(inboundMessage{Type: "submit", Content: "What happened on July 20 in history?"}))

	// The second tab sees the first tab's request before it tries its own.
	for {
		var snap chatservice.Snapshot
		f := readFrame(t, second)
		require.Equal(t, "state", f.Type)
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		if snap.Phase != chatservice.PhaseIdle {
			break
		}
	}
	require.NoError(t, second.WriteJSON(inboundMessage{Type: "submit", Content: "What happened on May 1 in history?"}))

	for {
		f := readFrame(t, second)
		if f.Type == "error" {
			assert.JSONEq(t, `{"message":"a request is already in progress"}`, string(f.Data))
			break
		}
	}
	close(gate.release)

	waitIdle(t, second, 2)

	stored, err := st.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)

	// Once idle, the other tab's question goes through on the same session.
	require.NoError(t, second.WriteJSON(inboundMessage{Type: "submit", Content: "What happened on May 1 in history?"}))
	waitIdle(t, second, 4)

	require.Eventually(t, func() bool {
		stored, err := st.Get(context.Background(), session.ID)
		return err == nil && len(stored.Messages) == 4
	}, 2*time.Second, 5*time.Millisecond)

	stored, err = st.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "What happened on July 20 in history?", stored.Messages[0].Content)
	assert.Equal(t, "What happened on May 1 in history?", stored.Messages[2].Content)
	assert.Equal(t, "1969: Apollo 11 lands on the Moon.", stored.Messages[3].Content)
}

func waitIdle(t *testing.T, conn *websocket.Conn, messages int) {
	t.Helper()
	for {
		f := readFrame(t, conn)
		require.Equal(t, "state", f.Type)

		var snap chatservice.Snapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		if snap.Phase == chatservice.PhaseIdle && len(snap.Session.Messages) == messages {
			return
		}
	}
}
