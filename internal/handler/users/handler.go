package users

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/user"
	userService "github.com/andreluisaguiar/chatbot-distribuido/internal/service/users"
	"github.com/andreluisaguiar/chatbot-distribuido/pkg/utils"
)

type ctxKey struct{}

// Handler serves the account routes.
type Handler struct {
	svc *userService.Service
}

// New creates the account handler.
func New(svc *userService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /users on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Get("/", h.handleList)
			r.Get("/me", h.handleMe)
			r.Put("/me", h.handleUpdate)
			r.Delete("/me", h.handleDelete)
			r.Get("/{userID}", h.handleGet)
		})
	})
}

// Authenticate resolves the bearer token into the request's user.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := h.svc.UserForToken(utils.BearerToken(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

// CurrentUser returns the user stored by Authenticate.
func CurrentUser(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(user.User)
	return u, ok
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload user.RegisterRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	resp, err := h.svc.Register(r.Context(), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	log.Info().Str("user", resp.User.ID).Msg("[users] registered")
	utils.RespondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload user.LoginRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	resp, err := h.svc.Login(r.Context(), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload user.UpdateRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	current, _ := CurrentUser(r.Context())
	updated, err := h.svc.Update(current.ID, payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	current, _ := CurrentUser(r.Context())
	if err := h.svc.Deactivate(r.Context(), current.ID); err != nil {
		respondServiceError(w, err)
		return
	}

	log.Info().Str("user", current.ID).Msg("[users] deactivated")
	utils.RespondJSON(w, http.StatusOK, user.MessageResponse{Message: "Usuário desativado com sucesso"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "limit must be a non-negative integer")
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.svc.List(skip, limit))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, userService.ErrEmailTaken):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, userService.ErrInvalidInput):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, userService.ErrInvalidCredentials), errors.Is(err, userService.ErrInvalidToken):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, userService.ErrInactive):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, userService.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("[users] unexpected error")
		utils.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
