package connection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

type fakeConn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  []string
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case p := <-c.inbound:
		return websocket.TextMessage, p, nil
	case <-c.done:
		return 0, nil, io.ErrUnexpectedEOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error            { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)          {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// scriptedDialer returns results in order; once the script runs out every
// dial fails.
type scriptedDialer struct {
	mu     sync.Mutex
	script []*fakeConn
	urls   []string
}

func (d *scriptedDialer) DialContext(_ context.Context, rawURL string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.script[0]
	d.script = d.script[1:]
	if next == nil {
		return nil, errors.New("connection refused")
	}
	return next, nil
}

func (d *scriptedDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type recorder struct {
	mu     sync.Mutex
	events []string
	states chan chat.ConnectionState
	errs   []error
}

func newRecorder() *recorder {
	return &recorder{states: make(chan chat.ConnectionState, 64)}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnOpen:    func() { r.add("open") },
		OnMessage: func(p []byte) { r.add("message:" + string(p)) },
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.add("error")
		},
		OnClose: func() { r.add("close") },
		OnStateChange: func(s chat.ConnectionState) {
			r.add("state:" + s.String())
			r.states <- s
		},
	}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitState(t *testing.T, want chat.ConnectionState) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func testOptions(d Dialer) Options {
	return Options{
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: 5,
		Dialer:               d,
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  error
	}{
		{name: "bare endpoint", endpoint: "ws://localhost:8000/ws_chat", want: "ws://localhost:8000/ws_chat?id=abc"},
		{name: "existing query", endpoint: "wss://chat.example.com/ws?lang=pt", want: "wss://chat.example.com/ws?id=abc&lang=pt"},
		{name: "http scheme", endpoint: "http://localhost:8000/ws_chat", wantErr: ErrInvalidEndpoint},
		{name: "no host", endpoint: "ws:///ws_chat", wantErr: ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.endpoint, "abc")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := BuildURL("ws://localhost:8000/ws_chat", "")
	assert.ErrorIs(t, err, ErrSessionRequired)
}

func TestOpenDeliversMessagesInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &scriptedDialer{script: []*fakeConn{conn}}
	rec := newRecorder()

	m := NewManager(testOptions(dialer))
	require.NoError(t, m.Open("ws://localhost:8000/ws_chat", "s1", rec.callbacks()))
	rec.waitState(t, chat.StateOpen)

	conn.inbound <- []byte("one")
	conn.inbound <- []byte("two")
	conn.inbound <- []byte("three")

	require.Eventually(t, func() bool { return len(rec.Events()) >= 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"state:connecting",
		"state:open",
		"open",
		"message:one",
		"message:two",
		"message:three",
	}, rec.Events())
	assert.Equal(t, "ws://localhost:8000/ws_chat?id=s1", dialer.urls[0])

	require.NoError(t, m.Close())
}

func TestOpenTwiceFails(t *testing.T) {
	m := NewManager(testOptions(&scriptedDialer{script: []*fakeConn{newFakeConn()}}))
	require.NoError(t, m.Open("ws://localhost/ws", "s1", Callbacks{}))
	assert.ErrorIs(t, m.Open("ws://localhost/ws", "s1", Callbacks{}), ErrAlreadyOpened)
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Open("ws://localhost/ws", "s1", Callbacks{}), ErrClosed)
}

func TestReconnectBudgetIsBounded(t *testing.T) {
	dialer := &scriptedDialer{}
	rec := newRecorder()

	m := NewManager(testOptions(dialer))
	require.NoError(t, m.Open("ws://localhost/ws", "s1", rec.callbacks()))
	rec.waitState(t, chat.StateClosed)

	// Give a stray sixth redial the chance to show up.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 6, dialer.Dials(), "initial dial plus five redials")
	assert.Equal(t, 5, m.Attempts())
	assert.Equal(t, chat.StateClosed, m.State())

	rec.mu.Lock()
	last := rec.errs[len(rec.errs)-1]
	rec.mu.Unlock()
	assert.ErrorIs(t, last, ErrReconnectExhausted)
}

func TestSuccessfulOpenResetsAttempts(t *testing.T) {
	first := newFakeConn()
	dialer := &scriptedDialer{script: []*fakeConn{nil, nil, first, newFakeConn()}}
	rec := newRecorder()

	m := NewManager(testOptions(dialer))
	require.NoError(t, m.Open("ws://localhost/ws", "s1", rec.callbacks()))
	rec.waitState(t, chat.StateOpen)
	assert.Equal(t, 0, m.Attempts())

	// Drop the live transport; the manager should redial with a fresh budget.
	require.NoError(t, first.Close())
	rec.waitState(t, chat.StateReconnecting)
	rec.waitState(t, chat.StateOpen)
	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, 4, dialer.Dials())

	require.NoError(t, m.Close())
}

func TestCloseDuringReconnectCancelsTimer(t *testing.T) {
	dialer := &scriptedDialer{}
	var afterClose atomic.Int32
	var closed atomic.Bool
	states := make(chan chat.ConnectionState, 8)

	opts := testOptions(dialer)
	opts.ReconnectDelay = 100 * time.Millisecond
	m := NewManager(opts)

	count := func() {
		if closed.Load() {
			afterClose.Add(1)
		}
	}
	cb := Callbacks{
		OnOpen:    count,
		OnError:   func(error) { count() },
		OnClose:   count,
		OnMessage: func([]byte) { count() },
		OnStateChange: func(s chat.ConnectionState) {
			count()
			states <- s
		},
	}
	require.NoError(t, m.Open("ws://localhost/ws", "s1", cb))

	deadline := time.After(time.Second)
	for waiting := true; waiting; {
		select {
		case s := <-states:
			waiting = s != chat.StateReconnecting
		case <-deadline:
			t.Fatal("never reached reconnecting")
		}
	}

	require.NoError(t, m.Close())
	closed.Store(true)
	require.NoError(t, m.Close(), "close is idempotent")

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, int32(0), afterClose.Load())
	assert.Equal(t, chat.StateClosed, m.State())
}

func TestSendOnlyWhenOpen(t *testing.T) {
	conn := newFakeConn()
	dialer := &scriptedDialer{script: []*fakeConn{conn}}
	rec := newRecorder()

	m := NewManager(testOptions(dialer))
	assert.False(t, m.Send("too early"))

	require.NoError(t, m.Open("ws://localhost/ws", "s1", rec.callbacks()))
	rec.waitState(t, chat.StateOpen)

	assert.True(t, m.Send("olá, bot"))
	assert.Equal(t, []string{"olá, bot"}, conn.Written())

	require.NoError(t, m.Close())
	assert.False(t, m.Send("too late"))
	assert.Equal(t, []string{"olá, bot"}, conn.Written())
}

func TestSendFailureTriggersReconnect(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	dialer := &scriptedDialer{script: []*fakeConn{conn, newFakeConn()}}
	rec := newRecorder()

	m := NewManager(testOptions(dialer))
	require.NoError(t, m.Open("ws://localhost/ws", "s1", rec.callbacks()))
	rec.waitState(t, chat.StateOpen)

	assert.False(t, m.Send("lost"))
	rec.waitState(t, chat.StateReconnecting)
	rec.waitState(t, chat.StateOpen)
	require.NoError(t, m.Close())
}

func TestManagerAgainstWebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	gotID := make(chan string, 1)

	r := chi.NewRouter()
	r.Get("/ws_chat", func(w http.ResponseWriter, req *http.Request) {
		gotID <- req.URL.Query().Get("id")
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply := `{"sender":"BOT","content":"` + strings.ToUpper(string(payload)) + `"}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	messages := make(chan string, 1)
	opened := make(chan struct{})
	m := NewManager(Options{ReconnectDelay: 10 * time.Millisecond, MaxReconnectAttempts: 1})
	err := m.Open("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws_chat", "abc-123", Callbacks{
		OnOpen:    func() { close(opened) },
		OnMessage: func(p []byte) { messages <- string(p) },
	})
	require.NoError(t, err)

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("socket never opened")
	}
	assert.Equal(t, "abc-123", <-gotID)

	require.True(t, m.Send("hello"))
	select {
	case got := <-messages:
		assert.JSONEq(t, `{"sender":"BOT","content":"HELLO"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}

	require.NoError(t, m.Close())
}
