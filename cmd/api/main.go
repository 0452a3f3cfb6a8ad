package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/config"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/handler"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/handler/ws"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/logging"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/metrics"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/ai"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/hub"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/users"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using the process environment")
	}

	chatService := chat.NewService()
	userService := users.NewService(cfg.Server.SecretKey, cfg.Server.TokenTTL, chatService)
	sockets := hub.New(10 * time.Second)
	m := metrics.New()

	var responder ai.Responder = ai.EchoResponder{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewServiceFromConfig(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, falling back to echo replies")
		} else {
			responder = aiService
			log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		log.Info().Msg("Ark credentials not set, bot answers with echo replies")
	}

	bot := ai.NewDispatcher(responder, chatService, ai.DispatcherOptions{
		Workers: cfg.Server.BotWorkers,
		Delay:   cfg.Server.BotDelay,
		Deliver: ws.Deliver(sockets, m),
		Observe: m.ObserveBotReply,
	})

	router := handler.NewRouter(handler.Deps{
		Chat:        chatService,
		Users:       userService,
		Hub:         sockets,
		Bot:         bot,
		Metrics:     m,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(sockets.CloseAll)

	log.Info().Msgf("chat API gateway listening on %s", cfg.Server.Addr)
	err = runServer(ctx, srv)
	bot.Stop()
	if err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
