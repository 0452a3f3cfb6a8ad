package account

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/user"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, register func(r chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	r.Route(apiPrefix, register)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestLoginStoresTokenAndMapsCredentials(t *testing.T) {
	var gotAuth atomic.Value
	client := newTestServer(t, func(r chi.Router) {
		r.Post("/users/login", func(w http.ResponseWriter, req *http.Request) {
			var body user.LoginRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "ana@example.com", body.Email)
			assert.Equal(t, "segredo1", body.Senha)
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "tok-1",
				"token_type":   "bearer",
				"session_id":   "0b7c2f8e-5b1e-4c43-9d8a-8f1b3f1c2d11",
				"user": map[string]any{
					"id":         "u-1",
					"nome":       "Ana",
					"sobrenome":  "Souza",
					"email":      "ana@example.com",
					"is_active":  "ACTIVE",
					"role":       "USER",
					"created_at": "2024-05-01T12:00:00Z",
					"updated_at": "2024-05-01T12:00:00Z",
				},
			})
		})
		r.Get("/users/me", func(w http.ResponseWriter, req *http.Request) {
			gotAuth.Store(req.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"id": "u-1", "nome": "Ana"})
		})
	})

	resp, err := client.Login(context.Background(), "ana@example.com", "segredo1")
	require.NoError(t, err)

	creds := resp.Credentials()
	assert.Equal(t, "0b7c2f8e-5b1e-4c43-9d8a-8f1b3f1c2d11", creds.SessionID)
	assert.Equal(t, "u-1", creds.UserID)
	assert.Equal(t, "Ana Souza", creds.DisplayName)
	assert.Equal(t, "tok-1", client.Token())

	me, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", me.ID)
	assert.Equal(t, "Bearer tok-1", gotAuth.Load())
}

func TestErrorMapping(t *testing.T) {
	client := newTestServer(t, func(r chi.Router) {
		r.Post("/users/login", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Email ou senha incorretos"})
		})
		r.Post("/users/register", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail": []map[string]any{
					{"loc": []string{"body", "email"}, "msg": "value is not a valid email address"},
				},
			})
		})
		r.Get("/users/me", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	})

	_, err := client.Login(context.Background(), "x@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Email ou senha incorretos", err.Error())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	_, err = client.Register(context.Background(), user.RegisterRequest{Email: "nope"})
	require.Error(t, err)
	assert.Equal(t, "value is not a valid email address", err.Error())

	client.SetToken("tok")
	_, err = client.CurrentUser(context.Background())
	require.Error(t, err)
	assert.Equal(t, "HTTP 500: Internal Server Error", err.Error())
	assert.False(t, errors.Is(err, ErrServerUnreachable))
}

func TestErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get(apiPrefix+"/users/me", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "down"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Retries: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond})
	client.SetToken("tok")

	_, err := client.CurrentUser(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := New(Options{
		BaseURL:      "http://" + addr,
		Retries:      1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})

	_, err = client.Login(context.Background(), "a@b.c", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerUnreachable)
}

func TestAuthenticatedCallsNeedToken(t *testing.T) {
	client := New(Options{BaseURL: "http://127.0.0.1:1"})
	_, err := client.ListUsers(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestListAndGetUsers(t *testing.T) {
	client := newTestServer(t, func(r chi.Router) {
		r.Get("/users", func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "5", req.URL.Query().Get("skip"))
			assert.Equal(t, "2", req.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{
				"users": []map[string]any{{"id": "a"}, {"id": "b"}},
				"total": 9,
			})
		})
		r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "id") != "a" {
				writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Usuário não encontrado"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "a", "nome": "Ana"})
		})
	})
	client.SetToken("tok")

	list, err := client.ListUsers(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 9, list.Total)
	assert.Len(t, list.Users, 2)

	u, err := client.GetUser(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Nome)

	_, err = client.GetUser(context.Background(), "zzz")
	require.Error(t, err)
	assert.Equal(t, "Usuário não encontrado", err.Error())
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestUpdateSendsOnlySetFields(t *testing.T) {
	client := newTestServer(t, func(r chi.Router) {
		r.Put("/users/me", func(w http.ResponseWriter, req *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, map[string]any{"nome": "Maria"}, body)
			writeJSON(w, http.StatusOK, map[string]any{"id": "u", "nome": "Maria"})
		})
	})
	client.SetToken("tok")

	nome := "Maria"
	u, err := client.UpdateUser(context.Background(), user.UpdateRequest{Nome: &nome})
	require.NoError(t, err)
	assert.Equal(t, "Maria", u.Nome)
}
