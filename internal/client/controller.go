package client

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/connection"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/conversation"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotDelivered = errors.New("not connected, message was not sent")
)

const (
	NoticeConnected    = "Connected"
	NoticeDisconnected = "Disconnected"
	NoticeError        = "Connection error"
	NoticeGaveUp       = "Could not reconnect to the server"
)

// Hooks let a front end follow the page. Both are optional and are called
// one at a time.
type Hooks struct {
	OnEntry  func(chat.Entry)
	OnStatus func(chat.ConnectionState)
}

// Controller is one chat page: a connection manager feeding a conversation.
type Controller struct {
	endpoint string
	creds    chat.Credentials
	manager  *connection.Manager
	conv     *conversation.Conversation
	hooks    Hooks
	log      zerolog.Logger

	// mu orders user sends against inbound events.
	mu       sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// New prepares a page for creds. Nothing is dialed until Start.
func New(endpoint string, creds chat.Credentials, opts connection.Options, conv *conversation.Conversation, hooks Hooks) *Controller {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if conv == nil {
		conv = conversation.New(conversation.WithLogger(logger))
	}

	return &Controller{
		endpoint: endpoint,
		creds:    creds,
		manager:  connection.NewManager(opts),
		conv:     conv,
		hooks:    hooks,
		log:      logger.With().Str("component", "controller").Str("session", creds.SessionID).Logger(),
		done:     make(chan struct{}),
	}
}

// Start opens the socket.
func (c *Controller) Start() error {
	return c.manager.Open(c.endpoint, c.creds.SessionID, connection.Callbacks{
		OnOpen:        c.handleOpen,
		OnMessage:     c.handleMessage,
		OnError:       c.handleError,
		OnClose:       c.handleClose,
		OnStateChange: c.handleState,
	})
}

// Send delivers text and records it. Nothing is recorded when the socket is
// not open.
func (c *Controller) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.manager.Send(text) {
		return ErrNotDelivered
	}
	c.emit(c.conv.AppendUserMessage(text))
	return nil
}

// Close ends the page. No hook fires after it returns. It must not be
// called from inside a hook.
func (c *Controller) Close() error {
	err := c.manager.Close()

	c.mu.Lock()
	c.conv.SetStatus(chat.StateClosed)
	c.hooks = Hooks{}
	c.mu.Unlock()

	c.finish()
	return err
}

// Done is closed once the connection is closed for good.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) Conversation() *conversation.Conversation {
	return c.conv
}

func (c *Controller) Credentials() chat.Credentials {
	return c.creds
}

func (c *Controller) State() chat.ConnectionState {
	return c.manager.State()
}

func (c *Controller) handleOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit(c.conv.AppendSystemNotice(NoticeConnected))
}

func (c *Controller) handleMessage(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.conv.IngestInboundFrame(payload); ok {
		c.emit(entry)
	}
}

func (c *Controller) handleError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errors.Is(err, connection.ErrReconnectExhausted) {
		c.log.Error().Err(err).Msg("[chat] connection abandoned")
		c.emit(c.conv.AppendSystemNotice(NoticeGaveUp))
		return
	}
	c.log.Warn().Err(err).Msg("[chat] connection error")
	c.emit(c.conv.AppendSystemNotice(NoticeError))
}

func (c *Controller) handleClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit(c.conv.AppendSystemNotice(NoticeDisconnected))
}

func (c *Controller) handleState(state chat.ConnectionState) {
	c.mu.Lock()
	c.conv.SetStatus(state)
	if fn := c.hooks.OnStatus; fn != nil {
		fn(state)
	}
	c.mu.Unlock()

	if state.Terminal() {
		c.finish()
	}
}

func (c *Controller) emit(entry chat.Entry) {
	if fn := c.hooks.OnEntry; fn != nil {
		fn(entry)
	}
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}
