package chat

import "time"

// Sender labels the origin of a chat entry. Values outside the known set are
// carried through unchanged so the renderer can still show them.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderSystem Sender = "SYSTEM"
	SenderBot    Sender = "BOT"
)

// Known reports whether s is one of the senders the backend documents.
func (s Sender) Known() bool {
	switch s {
	case SenderUser, SenderSystem, SenderBot:
		return true
	}
	return false
}

// Entry is one immutable line of the conversation log.
type Entry struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame is the JSON envelope the backend pushes over the chat socket.
type Frame struct {
	Sender  *string `json:"sender"`
	Content string  `json:"content"`
}

// Message is one stored turn of a session on the backend.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
