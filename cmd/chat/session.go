package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/client"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/render"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/auth"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/connection"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/conversation"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/store"
)

const quitCommand = "/quit"

var (
	flagAnonymous bool
	flagHistory   int
	flagName      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a chat session; type /quit to leave",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	f := chatCmd.Flags()
	f.BoolVar(&flagAnonymous, "anonymous", false, "chat as a guest without signing in")
	f.IntVar(&flagHistory, "history", 0, "print the last N entries of this session before connecting")
	f.StringVar(&flagName, "name", "", "display name for guest sessions")
}

func resolver() auth.Resolver {
	guest := auth.Anonymous{DisplayName: flagName}
	if flagAnonymous {
		return guest
	}
	return auth.Stored{Store: state.sessions}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	creds, err := resolver().Resolve(ctx)
	if errors.Is(err, auth.ErrNoSession) {
		return fmt.Errorf("%w, or pass --anonymous", err)
	}
	if err != nil {
		return err
	}

	printer := render.NewPrinter(os.Stdout)

	transcript, err := store.OpenTranscript(state.db, creds.SessionID)
	if err != nil {
		return err
	}
	if flagHistory > 0 {
		recent, err := transcript.Recent(flagHistory)
		if err != nil {
			state.log.Warn().Err(err).Msg("[chat] could not load history")
		} else if len(recent) > 0 {
			printer.Entries(recent)
			fmt.Fprintln(os.Stdout, "-- end of history --")
		}
	}

	conv := conversation.New(
		conversation.WithLogger(state.log),
		conversation.WithRecorder(transcript),
	)

	opts := connection.Options{
		ReconnectDelay:       state.cfg.Client.ReconnectDelay,
		MaxReconnectAttempts: state.cfg.Client.MaxReconnectAttempts,
		HandshakeTimeout:     state.cfg.Client.HandshakeTimeout,
		PingInterval:         state.cfg.Client.PingInterval,
		PongWait:             state.cfg.Client.PingInterval * 5 / 2,
		Logger:               &state.log,
	}

	ctl := client.New(state.cfg.Client.WSURL, creds, opts, conv, client.Hooks{
		OnEntry: func(e chat.Entry) {
			if e.Sender != chat.SenderUser {
				printer.Entry(e)
			}
		},
		OnStatus: printer.Status,
	})

	fmt.Fprintf(os.Stdout, "Chatting as %s. Type %s to leave.\n", creds.DisplayName, quitCommand)
	if err := ctl.Start(); err != nil {
		return err
	}
	defer func() { _ = ctl.Close() }()

	return loop(ctx, ctl, printer)
}

// loop feeds stdin lines to the controller until /quit, EOF, a signal or
// the connection giving up.
func loop(ctx context.Context, ctl *client.Controller, printer *render.Printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ctl.Done():
			return errors.New("connection closed")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == quitCommand {
				return nil
			}
			if text == "" {
				continue
			}
			if err := ctl.Send(text); err != nil {
				printer.Status(ctl.State())
				fmt.Fprintln(os.Stderr, "not sent:", err)
			}
		}
	}
}
