package chat

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/ai"
	chatService "github.com/andreluisaguiar/chatbot-distribuido/internal/service/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/pkg/utils"
)

const (
	acceptedDetail    = "Mensagem enfileirada para processamento assíncrono."
	unavailableDetail = "Serviço de mensageria indisponível."
)

// Submitter queues bot work.
type Submitter interface {
	Submit(job ai.Job) error
}

// Handler is the HTTP gateway for chat messages. Replies reach the client
// over its socket.
type Handler struct {
	chatSvc *chatService.Service
	bot     Submitter
}

// New creates the gateway handler.
func New(chatSvc *chatService.Service, bot Submitter) *Handler {
	return &Handler{chatSvc: chatSvc, bot: bot}
}

// RegisterRoutes mounts POST /chat and the session transcript route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleSend)
	r.Get("/chat/{sessionID}/messages", h.handleTranscript)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload chat.GatewayRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	payload.UserID = strings.TrimSpace(payload.UserID)
	if payload.UserID == "" || payload.Message == "" {
		utils.RespondError(w, http.StatusUnprocessableEntity, "user_id and message are required")
		return
	}

	ctx := r.Context()
	if _, err := h.chatSvc.EnsureSession(ctx, payload.UserID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: payload.UserID,
		Sender:    chat.SenderUser,
		Content:   payload.Message,
	})
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bot.Submit(ai.Job{SessionID: payload.UserID, Prompt: payload.Message}); err != nil {
		log.Warn().Err(err).Str("session", payload.UserID).Msg("[gateway] bot queue rejected message")
		utils.RespondError(w, http.StatusServiceUnavailable, unavailableDetail)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.GatewayAccepted{
		Status:    "accepted",
		MessageID: saved.ID,
		Detail:    acceptedDetail,
	})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}
