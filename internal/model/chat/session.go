package chat

import "time"

// Credentials identify the user and the chat session a socket authenticates
// against. They are established once and dropped on logout.
type Credentials struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AuthToken   string `json:"authToken,omitempty"`
	TokenType   string `json:"tokenType,omitempty"`
}

// Authenticated is true when the credentials carry a bearer token.
func (c Credentials) Authenticated() bool {
	return c.AuthToken != ""
}

// Valid reports whether the credentials can open a chat socket.
func (c Credentials) Valid() bool {
	return c.SessionID != ""
}

// Session is a chat session as the backend tracks it.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}
