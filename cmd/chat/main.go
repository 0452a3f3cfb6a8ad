package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/config"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/logging"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/account"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/store"
)

// app carries what every subcommand needs. It is filled in by the root
// command's pre-run hook.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *store.DB
	sessions store.SessionStore
	api      *account.Client
}

var (
	state       app
	flagVerbose bool
	flagAPIURL  string
	flagWSURL   string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:           "chat",
	Short:         "Terminal client for the distributed chatbot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return state.setup()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "log connection events to stderr")
	flags.StringVar(&flagAPIURL, "api-url", "", "REST base URL (overrides CHAT_API_URL)")
	flags.StringVar(&flagWSURL, "ws-url", "", "chat socket URL (overrides CHAT_WS_URL)")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for the local session and transcripts (overrides CHAT_DATA_DIR)")

	rootCmd.AddCommand(
		registerCmd,
		loginCmd,
		logoutCmd,
		whoamiCmd,
		usersCmd,
		updateCmd,
		deleteCmd,
		chatCmd,
	)
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer state.teardown()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (a *app) setup() error {
	_ = godotenv.Load()

	for key, val := range map[string]string{
		"CHAT_API_URL":  flagAPIURL,
		"CHAT_WS_URL":   flagWSURL,
		"CHAT_DATA_DIR": flagDataDir,
	} {
		if val != "" {
			_ = os.Setenv(key, val)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	a.log = logging.New(logging.Config{Level: level, Pretty: cfg.Log.Pretty})

	a.db, err = store.Open(cfg.Client.DataDir)
	if err != nil {
		return err
	}
	a.sessions = store.NewPebbleSessionStore(a.db, a.log)

	a.api = account.New(account.Options{
		BaseURL: cfg.Client.APIURL,
		Timeout: cfg.Client.HTTPTimeout,
		Retries: cfg.Client.HTTPRetries,
		Logger:  &a.log,
	})

	creds, found, err := a.sessions.Load()
	if err != nil {
		log.Warn().Err(err).Msg("[chat] could not read the stored session")
	} else if found && creds.Authenticated() {
		a.api.SetToken(creds.AuthToken)
	}
	return nil
}

func (a *app) teardown() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("[chat] close local store")
	}
	a.db = nil
}
