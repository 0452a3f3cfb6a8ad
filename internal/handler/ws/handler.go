package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/metrics"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/ai"
	chatservice "github.com/andreluisaguiar/chatbot-distribuido/internal/service/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/hub"
)

const (
	AckContent  = "Mensagem recebida e em processamento..."
	BusyContent = "Servidor ocupado, tente novamente em instantes."

	readLimit = 64 << 10
)

// Frame is the JSON envelope written to chat sockets.
type Frame struct {
	Sender  chat.Sender `json:"sender"`
	Content string      `json:"content"`
}

// Submitter queues bot work.
type Submitter interface {
	Submit(job ai.Job) error
}

// Options tunes socket keepalive.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
}

// Handler accepts chat sockets.
type Handler struct {
	chatSvc  *chatservice.Service
	hub      *hub.Hub
	bot      Submitter
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader
}

// New creates the socket handler. m may be nil.
func New(chatSvc *chatservice.Service, h *hub.Hub, bot Submitter, m *metrics.Metrics, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 54 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = opts.PingInterval * 10 / 9
	}
	return &Handler{
		chatSvc: chatSvc,
		hub:     h,
		bot:     bot,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the socket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws_chat", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, r.URL.Query().Get("id"))
	})
	r.Get("/ws/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, chi.URLParam(r, "sessionID"))
	})
}

// Deliver returns the callback the bot workers hand their replies to.
func Deliver(h *hub.Hub, m *metrics.Metrics) func(reply chat.Message) {
	return func(reply chat.Message) {
		start := time.Now()
		err := h.Send(reply.SessionID, Frame{Sender: reply.Sender, Content: reply.Content})
		if errors.Is(err, hub.ErrNotConnected) {
			log.Info().Str("session", reply.SessionID).Msg("[ws] reply dropped, client gone")
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("session", reply.SessionID).Msg("[ws] reply write failed")
			return
		}
		if m != nil {
			m.RecordWSMessage("bot_reply", time.Since(start))
		}
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[ws] upgrade failed")
		return
	}

	if _, err := uuid.Parse(sessionID); err != nil {
		log.Info().Str("session", sessionID).Msg("[ws] rejected invalid session id")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "ID de usuário/sessão inválido."),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return
	}

	if _, err := h.chatSvc.EnsureSession(r.Context(), sessionID); err != nil {
		_ = conn.Close()
		return
	}

	client := h.hub.Add(sessionID, conn)
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	log.Info().Str("session", sessionID).Msg("[ws] connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.hub.Remove(client)
		if h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
		log.Info().Str("session", sessionID).Msg("[ws] disconnected")
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	go h.pingLoop(ctx, client)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session", sessionID).Msg("[ws] read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		h.handleText(ctx, client, string(payload))
	}
}

// handleText stores the prompt, acknowledges it and queues the bot reply.
func (h *Handler) handleText(ctx context.Context, client *hub.Client, text string) {
	start := time.Now()
	sessionID := client.SessionID

	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderUser,
		Content:   text,
	}); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("[ws] failed to store user message")
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("receive", time.Since(start))
	}

	// the ack goes out before the job is queued so it always precedes the reply
	h.write(client, Frame{Sender: chat.SenderSystem, Content: AckContent}, "ack")

	if err := h.bot.Submit(ai.Job{SessionID: sessionID, Prompt: text}); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("[ws] bot queue rejected message")
		h.write(client, Frame{Sender: chat.SenderSystem, Content: BusyContent}, "busy")
	}
}

func (h *Handler) write(client *hub.Client, frame Frame, action string) {
	start := time.Now()
	if err := client.WriteJSON(frame); err != nil {
		log.Warn().Err(err).Str("session", client.SessionID).Msg("[ws] write failed")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage(action, time.Since(start))
	}
}

func (h *Handler) pingLoop(ctx context.Context, client *hub.Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
