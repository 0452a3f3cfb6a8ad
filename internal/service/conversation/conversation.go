package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

var (
	ErrMalformedFrame = errors.New("malformed inbound frame")
	ErrMissingSender  = errors.New("inbound frame has no sender")
)

// Recorder receives every entry after it is appended.
type Recorder interface {
	Record(entry chat.Entry) error
}

// Option customises a Conversation.
type Option func(*Conversation)

// WithLogger routes diagnostics to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conversation) {
		c.log = logger.With().Str("component", "conversation").Logger()
	}
}

// WithRecorder mirrors appended entries into r.
func WithRecorder(r Recorder) Option {
	return func(c *Conversation) {
		c.recorder = r
	}
}

// WithDiscardHook is told about every inbound frame that could not be parsed.
func WithDiscardHook(fn func(raw []byte, err error)) Option {
	return func(c *Conversation) {
		c.onDiscard = fn
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) {
		c.now = now
	}
}

// Conversation is the append-only log of a chat page plus the status of its
// socket.
type Conversation struct {
	mu        sync.RWMutex
	entries   []chat.Entry
	status    chat.ConnectionState
	discarded int

	log       zerolog.Logger
	recorder  Recorder
	onDiscard func(raw []byte, err error)
	now       func() time.Time
}

// New returns an empty conversation whose status is Disconnected.
func New(opts ...Option) *Conversation {
	c := &Conversation{
		entries: make([]chat.Entry, 0, 32),
		status:  chat.StateDisconnected,
		log:     zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppendUserMessage records text the user just sent.
func (c *Conversation) AppendUserMessage(text string) chat.Entry {
	return c.append(chat.SenderUser, text)
}

// AppendSystemNotice records a locally generated lifecycle notice.
func (c *Conversation) AppendSystemNotice(text string) chat.Entry {
	return c.append(chat.SenderSystem, text)
}

// IngestInboundFrame parses raw as {sender, content} and appends it. Frames
// that do not parse leave the log untouched and are reported through the
// diagnostic channel.
func (c *Conversation) IngestInboundFrame(raw []byte) (chat.Entry, bool) {
	sender, content, err := ParseFrame(raw)
	if err != nil {
		c.mu.Lock()
		c.discarded++
		c.mu.Unlock()

		c.log.Warn().Err(err).Int("bytes", len(raw)).Msg("[conversation] discarding inbound frame")
		if c.onDiscard != nil {
			c.onDiscard(raw, err)
		}
		return chat.Entry{}, false
	}
	return c.append(sender, content), true
}

// ParseFrame decodes one inbound frame. Unknown senders are returned as is.
func ParseFrame(raw []byte) (chat.Sender, string, error) {
	var frame chat.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Sender == nil {
		return "", "", ErrMissingSender
	}
	return chat.Sender(*frame.Sender), frame.Content, nil
}

// Entries returns a snapshot of the log in append order.
func (c *Conversation) Entries() []chat.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := make([]chat.Entry, len(c.entries))
	copy(copied, c.entries)
	return copied
}

// Len is the number of entries appended so far.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Discarded counts inbound frames that failed to parse.
func (c *Conversation) Discarded() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discarded
}

// SetStatus stores the latest connection state.
func (c *Conversation) SetStatus(state chat.ConnectionState) {
	c.mu.Lock()
	c.status = state
	c.mu.Unlock()
}

// Status returns the latest connection state.
func (c *Conversation) Status() chat.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Conversation) append(sender chat.Sender, content string) chat.Entry {
	entry := chat.Entry{
		Sender:    sender,
		Content:   content,
		Timestamp: c.now(),
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.Record(entry); err != nil {
			c.log.Warn().Err(err).Msg("[conversation] failed to record entry")
		}
	}
	return entry
}
