package users

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/user"
)

var (
	ErrEmailTaken         = errors.New("Email já cadastrado")
	ErrInvalidCredentials = errors.New("Email ou senha incorretos")
	ErrInactive           = errors.New("Usuário inativo")
	ErrNotFound           = errors.New("Usuário não encontrado")
	ErrInvalidToken       = errors.New("Token inválido ou expirado")
	ErrInvalidInput       = errors.New("nome, sobrenome, email e senha são obrigatórios")
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	RoleUser       = "USER"
	TokenType      = "bearer"
)

// Sessions opens and closes the chat session bound to a login.
type Sessions interface {
	OpenSession(ctx context.Context, userID string) chat.Session
	CloseUserSessions(ctx context.Context, userID string)
}

type account struct {
	user user.User
	hash []byte
}

// Service keeps accounts in memory and issues HS256 bearer tokens.
type Service struct {
	secret   []byte
	ttl      time.Duration
	sessions Sessions
	cost     int
	now      func() time.Time

	mu      sync.RWMutex
	byID    map[string]*account
	byEmail map[string]string
}

// Option tweaks a Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an empty account service.
func NewService(secret string, ttl time.Duration, sessions Sessions, opts ...Option) *Service {
	s := &Service{
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: sessions,
		cost:     bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
		byID:     make(map[string]*account),
		byEmail:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and logs it in.
func (s *Service) Register(ctx context.Context, req user.RegisterRequest) (user.LoginResponse, error) {
	email := normalizeEmail(req.Email)
	if strings.TrimSpace(req.Nome) == "" || strings.TrimSpace(req.Sobrenome) == "" || email == "" || req.Senha == "" {
		return user.LoginResponse{}, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Senha), s.cost)
	if err != nil {
		return user.LoginResponse{}, err
	}

	s.mu.Lock()
	if _, ok := s.byEmail[email]; ok {
		s.mu.Unlock()
		return user.LoginResponse{}, ErrEmailTaken
	}

	now := s.now()
	username := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		username = email[:at]
	}
	acc := &account{
		user: user.User{
			ID:        uuid.NewString(),
			Nome:      strings.TrimSpace(req.Nome),
			Sobrenome: strings.TrimSpace(req.Sobrenome),
			Email:     email,
			Username:  &username,
			IsActive:  StatusActive,
			Role:      RoleUser,
			CreatedAt: now,
			UpdatedAt: now,
		},
		hash: hash,
	}
	s.byID[acc.user.ID] = acc
	s.byEmail[email] = acc.user.ID
	s.mu.Unlock()

	return s.login(ctx, acc.user.ID)
}

// Login checks the password and returns a token plus the active session.
func (s *Service) Login(ctx context.Context, req user.LoginRequest) (user.LoginResponse, error) {
	email := normalizeEmail(req.Email)

	s.mu.RLock()
	id, ok := s.byEmail[email]
	var acc account
	if ok {
		acc = *s.byID[id]
	}
	s.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(req.Senha)) != nil {
		return user.LoginResponse{}, ErrInvalidCredentials
	}
	if acc.user.IsActive != StatusActive {
		return user.LoginResponse{}, ErrInactive
	}
	return s.login(ctx, id)
}

func (s *Service) login(ctx context.Context, id string) (user.LoginResponse, error) {
	now := s.now()

	s.mu.Lock()
	acc, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return user.LoginResponse{}, ErrNotFound
	}
	acc.user.LastLogin = &now
	u := acc.user
	s.mu.Unlock()

	token, err := s.issue(u.ID, now)
	if err != nil {
		return user.LoginResponse{}, err
	}
	session := s.sessions.OpenSession(ctx, u.ID)

	return user.LoginResponse{
		AccessToken: token,
		TokenType:   TokenType,
		User:        u,
		SessionID:   session.ID,
	}, nil
}

func (s *Service) issue(userID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// UserForToken resolves a bearer token to an active user.
func (s *Service) UserForToken(token string) (user.User, error) {
	if token == "" {
		return user.User{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return user.User{}, ErrInvalidToken
	}

	u, err := s.Get(claims.Subject)
	if err != nil {
		return user.User{}, ErrInvalidToken
	}
	if u.IsActive != StatusActive {
		return user.User{}, ErrInactive
	}
	return u, nil
}

// Update applies the non-nil fields of req.
func (s *Service) Update(id string, req user.UpdateRequest) (user.User, error) {
	var hash []byte
	if req.Senha != nil {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(*req.Senha), s.cost); err != nil {
			return user.User{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.byID[id]
	if !ok {
		return user.User{}, ErrNotFound
	}
	if req.Nome != nil {
		acc.user.Nome = strings.TrimSpace(*req.Nome)
	}
	if req.Sobrenome != nil {
		acc.user.Sobrenome = strings.TrimSpace(*req.Sobrenome)
	}
	if hash != nil {
		acc.hash = hash
	}
	acc.user.UpdatedAt = s.now()
	return acc.user, nil
}

// List returns a page of users ordered by creation time.
func (s *Service) List(skip, limit int) user.UserList {
	s.mu.RLock()
	all := make([]user.User, 0, len(s.byID))
	for _, acc := range s.byID {
		all = append(all, acc.user)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Email < all[j].Email
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if skip < 0 {
		skip = 0
	}
	if skip > total {
		skip = total
	}
	end := total
	if limit > 0 && skip+limit < total {
		end = skip + limit
	}
	return user.UserList{Users: all[skip:end], Total: total}
}

// Get returns a user by id.
func (s *Service) Get(id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byID[id]
	if !ok {
		return user.User{}, ErrNotFound
	}
	return acc.user, nil
}

// Deactivate marks the user inactive and ends their chat session. The
// account is kept.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	acc, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	acc.user.IsActive = StatusInactive
	acc.user.UpdatedAt = s.now()
	s.mu.Unlock()

	s.sessions.CloseUserSessions(ctx, id)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
