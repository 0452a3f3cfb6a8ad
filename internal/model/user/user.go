package user

import (
	"time"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

// User mirrors the backend's user representation.
type User struct {
	ID        string     `json:"id"`
	Nome      string     `json:"nome"`
	Sobrenome string     `json:"sobrenome"`
	Email     string     `json:"email"`
	Username  *string    `json:"username"`
	IsActive  string     `json:"is_active"`
	Role      string     `json:"role"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	switch {
	case u.Nome == "":
		return u.Sobrenome
	case u.Sobrenome == "":
		return u.Nome
	default:
		return u.Nome + " " + u.Sobrenome
	}
}

// RegisterRequest is the payload of POST /users/register.
type RegisterRequest struct {
	Nome      string `json:"nome"`
	Sobrenome string `json:"sobrenome"`
	Email     string `json:"email"`
	Senha     string `json:"senha"`
}

// LoginRequest is the payload of POST /users/login.
type LoginRequest struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

// UpdateRequest is the payload of PUT /users/me. Nil fields are left as they are.
type UpdateRequest struct {
	Nome      *string `json:"nome,omitempty"`
	Sobrenome *string `json:"sobrenome,omitempty"`
	Senha     *string `json:"senha,omitempty"`
}

// LoginResponse is returned by register and login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
	SessionID   string `json:"session_id"`
}

// Credentials converts a login response into chat credentials.
func (r LoginResponse) Credentials() chat.Credentials {
	return chat.Credentials{
		SessionID:   r.SessionID,
		UserID:      r.User.ID,
		DisplayName: r.User.DisplayName(),
		AuthToken:   r.AccessToken,
		TokenType:   r.TokenType,
	}
}

// UserList is a page of users plus the overall count.
type UserList struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}
