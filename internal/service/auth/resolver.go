package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/account"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/store"
)

var ErrNoSession = errors.New("no stored session, run login first")

// Resolver produces the credentials a chat socket is opened with.
type Resolver interface {
	Resolve(ctx context.Context) (chat.Credentials, error)
}

// Anonymous mints a throwaway identity for guests.
type Anonymous struct {
	DisplayName string
}

func (a Anonymous) Resolve(context.Context) (chat.Credentials, error) {
	id := uuid.NewString()
	name := a.DisplayName
	if name == "" {
		name = "guest-" + id[:8]
	}
	return chat.Credentials{
		SessionID:   id,
		UserID:      "user-" + id,
		DisplayName: name,
	}, nil
}

// Stored reuses the credentials of a previous login.
type Stored struct {
	Store store.SessionStore
}

func (s Stored) Resolve(context.Context) (chat.Credentials, error) {
	creds, found, err := s.Store.Load()
	if err != nil {
		return chat.Credentials{}, fmt.Errorf("load stored session: %w", err)
	}
	if !found {
		return chat.Credentials{}, ErrNoSession
	}
	return creds, nil
}

// Login signs in with email and password and remembers the result.
type Login struct {
	Client *account.Client
	Store  store.SessionStore
	Email  string
	Senha  string
}

func (l Login) Resolve(ctx context.Context) (chat.Credentials, error) {
	resp, err := l.Client.Login(ctx, l.Email, l.Senha)
	if err != nil {
		return chat.Credentials{}, err
	}

	creds := resp.Credentials()
	if l.Store != nil {
		if err := l.Store.Save(creds); err != nil {
			return chat.Credentials{}, fmt.Errorf("save session: %w", err)
		}
	}
	return creds, nil
}

// Chain tries each resolver in turn and returns the first success. A
// resolver reporting ErrNoSession lets the next one try.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context) (chat.Credentials, error) {
	for _, r := range c {
		creds, err := r.Resolve(ctx)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ErrNoSession) {
			return chat.Credentials{}, err
		}
	}
	return chat.Credentials{}, ErrNoSession
}
