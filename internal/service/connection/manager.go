package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

var (
	ErrSessionRequired    = errors.New("session id is required")
	ErrInvalidEndpoint    = errors.New("invalid websocket endpoint")
	ErrAlreadyOpened      = errors.New("connection manager already opened")
	ErrClosed             = errors.New("connection manager closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Callbacks receive lifecycle events. All of them are optional and are
// invoked one at a time, in the order the events happened.
type Callbacks struct {
	OnOpen        func()
	OnMessage     func(payload []byte)
	OnError       func(err error)
	OnClose       func()
	OnStateChange func(state chat.ConnectionState)
}

// Manager owns a single chat socket: it dials, detects drops, redials with a
// fixed delay up to a bounded number of attempts, and stops for good on Close.
type Manager struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	state      chat.ConnectionState
	url        string
	cb         Callbacks
	conn       Conn
	attempts   int
	timer      *time.Timer
	dialCancel context.CancelFunc
	opened     bool
	closed     bool
	finished   bool
	queue      []func()

	writeMu sync.Mutex
}

// NewManager builds an idle manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	m := &Manager{
		opts:  opts,
		log:   logger.With().Str("component", "connection").Logger(),
		state: chat.StateDisconnected,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Open starts connecting to endpoint with sessionID attached. It returns
// immediately; outcomes arrive through cb. Only caller mistakes are returned.
func (m *Manager) Open(endpoint, sessionID string, cb Callbacks) error {
	target, err := BuildURL(endpoint, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.opened {
		return ErrAlreadyOpened
	}

	m.opened = true
	m.url = target
	m.cb = cb

	go m.dispatch()

	m.setStateLocked(chat.StateConnecting)
	m.log.Info().Msgf("[connection] dialing %s", endpoint)
	go m.dial()
	return nil
}

// Send writes text as one frame when the socket is open. It never queues.
func (m *Manager) Send(text string) bool {
	m.mu.Lock()
	if m.state != chat.StateOpen || m.conn == nil {
		m.mu.Unlock()
		return false
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		m.log.Warn().Err(err).Msg("[connection] write failed, dropping transport")
		// The read loop observes the closed transport and starts a redial.
		_ = conn.Close()
		return false
	}
	return true
}

// Close stops the manager for good. It is safe to call more than once and
// from inside a callback. No callback starts after Close returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	m.state = chat.StateClosed
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.queue = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	m.log.Info().Msg("[connection] closed by caller")

	if conn == nil {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(m.opts.WriteTimeout),
	)
	return conn.Close()
}

// State returns the current lifecycle state.
func (m *Manager) State() chat.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many redials have been scheduled since the last
// successful open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) dial() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	target := m.url
	m.mu.Unlock()

	conn, err := m.opts.Dialer.DialContext(ctx, target, m.opts.Header)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dialCancel = nil
	if m.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		m.log.Warn().Err(err).Msg("[connection] dial failed")
		m.emitErrorLocked(err)
		m.failLocked()
		return
	}

	if m.opts.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		})
	}

	m.conn = conn
	m.attempts = 0
	m.setStateLocked(chat.StateOpen)
	if fn := m.cb.OnOpen; fn != nil {
		m.emitLocked(fn)
	}
	m.log.Info().Msg("[connection] open")

	go m.readLoop(conn)
	if m.opts.PingInterval > 0 {
		go m.pingLoop(conn)
	}
}

func (m *Manager) redial() {
	m.mu.Lock()
	m.timer = nil
	closed := m.closed
	attempt := m.attempts
	m.mu.Unlock()

	if closed {
		return
	}
	m.log.Info().Msgf("[connection] reconnect attempt %d/%d", attempt, m.opts.MaxReconnectAttempts)
	m.dial()
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.dropped(conn, err)
			return
		}

		if m.opts.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		}

		m.mu.Lock()
		if m.closed || m.conn != conn {
			m.mu.Unlock()
			return
		}
		if fn := m.cb.OnMessage; fn != nil {
			m.emitLocked(func() { fn(payload) })
		}
		m.mu.Unlock()
	}
}

func (m *Manager) pingLoop(conn Conn) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		current := !m.closed && m.conn == conn
		m.mu.Unlock()
		if !current {
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout)); err != nil {
			m.log.Debug().Err(err).Msg("[connection] ping failed")
			return
		}
	}
}

func (m *Manager) dropped(conn Conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.conn != conn {
		return
	}
	m.conn = nil
	_ = conn.Close()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Warn().Err(err).Msg("[connection] transport lost")
		m.emitErrorLocked(fmt.Errorf("connection lost: %w", err))
	} else {
		m.log.Info().Int("code", closeErr.Code).Msg("[connection] server closed the socket")
	}
	if fn := m.cb.OnClose; fn != nil {
		m.emitLocked(fn)
	}
	m.failLocked()
}

// failLocked either schedules the next redial or gives up.
func (m *Manager) failLocked() {
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.log.Error().Msgf("[connection] giving up after %d reconnect attempts", m.attempts)
		m.finished = true
		m.emitErrorLocked(ErrReconnectExhausted)
		m.setStateLocked(chat.StateClosed)
		m.cond.Broadcast()
		return
	}

	m.attempts++
	m.setStateLocked(chat.StateReconnecting)
	m.log.Info().Msgf("[connection] retrying in %s (%d/%d)", m.opts.ReconnectDelay, m.attempts, m.opts.MaxReconnectAttempts)
	m.timer = time.AfterFunc(m.opts.ReconnectDelay, m.redial)
}

func (m *Manager) setStateLocked(s chat.ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	if fn := m.cb.OnStateChange; fn != nil {
		m.emitLocked(func() { fn(s) })
	}
}

func (m *Manager) emitErrorLocked(err error) {
	if fn := m.cb.OnError; fn != nil {
		m.emitLocked(func() { fn(err) })
	}
}

func (m *Manager) emitLocked(fn func()) {
	m.queue = append(m.queue, fn)
	m.cond.Signal()
}

// dispatch runs queued callbacks serially until the manager is closed or has
// given up and drained its queue.
func (m *Manager) dispatch() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed && !m.finished {
			m.cond.Wait()
		}
		if m.closed || len(m.queue) == 0 {
			m.queue = nil
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
	}
}
