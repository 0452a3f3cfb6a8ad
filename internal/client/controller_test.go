package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/connection"
)

// botServer answers every text frame with a BOT frame echoing it.
func botServer(t *testing.T, reply func(string) string) (endpoint string, closeAll func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var mu sync.Mutex
	var conns []*websocket.Conn

	r := chi.NewRouter()
	r.Get("/ws_chat", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(reply(string(payload))))
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws_chat", func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	}
}

func TestExchangeScenario(t *testing.T) {
	endpoint, _ := botServer(t, func(string) string { return `{"sender":"BOT","content":"hello"}` })

	entries := make(chan chat.Entry, 8)
	ctrl := New(endpoint, chat.Credentials{SessionID: "s1"}, connection.Options{MaxReconnectAttempts: 1}, nil, Hooks{
		OnEntry: func(e chat.Entry) { entries <- e },
	})
	require.NoError(t, ctrl.Start())
	defer ctrl.Close()

	first := waitEntry(t, entries)
	assert.Equal(t, chat.Entry{Sender: chat.SenderSystem, Content: NoticeConnected}, stripTime(first))
	assert.Equal(t, chat.StateOpen, ctrl.Conversation().Status())

	require.NoError(t, ctrl.Send("hi"))
	waitEntry(t, entries)
	waitEntry(t, entries)

	got := ctrl.Conversation().Entries()
	require.Len(t, got, 3)
	assert.Equal(t, chat.Entry{Sender: chat.SenderSystem, Content: "Connected"}, stripTime(got[0]))
	assert.Equal(t, chat.Entry{Sender: chat.SenderUser, Content: "hi"}, stripTime(got[1]))
	assert.Equal(t, chat.Entry{Sender: chat.SenderBot, Content: "hello"}, stripTime(got[2]))
}

func TestSendWhileDisconnected(t *testing.T) {
	ctrl := New("ws://127.0.0.1:1/ws_chat", chat.Credentials{SessionID: "s1"}, connection.Options{}, nil, Hooks{})

	assert.ErrorIs(t, ctrl.Send("hi"), ErrNotDelivered)
	assert.ErrorIs(t, ctrl.Send("   "), ErrEmptyMessage)
	assert.Zero(t, ctrl.Conversation().Len())
}

func TestServerDropShowsNoticesAndRecovers(t *testing.T) {
	endpoint, dropAll := botServer(t, func(s string) string { return `{"sender":"BOT","content":"` + s + `"}` })

	var mu sync.Mutex
	var states []chat.ConnectionState
	opened := make(chan struct{}, 4)
	ctrl := New(endpoint, chat.Credentials{SessionID: "s1"}, connection.Options{
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, nil, Hooks{
		OnStatus: func(s chat.ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
			if s == chat.StateOpen {
				opened <- struct{}{}
			}
		},
	})
	require.NoError(t, ctrl.Start())
	defer ctrl.Close()

	<-opened
	dropAll()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}

	mu.Lock()
	assert.Contains(t, states, chat.StateReconnecting)
	mu.Unlock()

	notices := func() []string {
		var out []string
		for _, e := range ctrl.Conversation().Entries() {
			if e.Sender == chat.SenderSystem {
				out = append(out, e.Content)
			}
		}
		return out
	}
	require.Eventually(t, func() bool {
		n := notices()
		return len(n) >= 3 && n[len(n)-1] == NoticeConnected
	}, 2*time.Second, 10*time.Millisecond)

	got := notices()
	assert.Equal(t, NoticeConnected, got[0])
	assert.Contains(t, got, NoticeDisconnected)
}

func TestGivingUpClosesDone(t *testing.T) {
	ctrl := New("ws://127.0.0.1:1/ws_chat", chat.Credentials{SessionID: "s1"}, connection.Options{
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 2,
	}, nil, Hooks{})
	require.NoError(t, ctrl.Start())

	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("controller never gave up")
	}

	entries := ctrl.Conversation().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, NoticeGaveUp, entries[len(entries)-1].Content)
	assert.Equal(t, chat.StateClosed, ctrl.Conversation().Status())
}

func waitEntry(t *testing.T, ch <-chan chat.Entry) chat.Entry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for entry")
		return chat.Entry{}
	}
}

func stripTime(e chat.Entry) chat.Entry {
	e.Timestamp = time.Time{}
	return e
}
