// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatstream/internal/chat"
	"github.com/jeranaias/chatstream/internal/cloud"
	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/kv"
	"github.com/jeranaias/chatstream/internal/logging"
	"github.com/jeranaias/chatstream/internal/session"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/title"
)

// Version is set at build time.
var Version = "dev"

// App holds what the commands share. Fields are filled lazily so commands
// that need only the config never open storage.
type App struct {
	// Flags.
	configPath string
	logLevel   string
	backend    string
	ephemeral  bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg       *config.Holder
	log    zerolog.Logger
	logOut *logging.Output

	kv      kv.Store
	store   *storage.Store
	client  *cloud.Client
	service *chat.Service
}

// NewApp returns an App wired to the process's standard streams.
func NewApp() *App {
	return &App{
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
		log:    zerolog.Nop(),
	}
}

// Execute runs the command line and releases everything it opened.
func Execute(ctx context.Context, args []string) error {
	app := NewApp()
	defer app.Close()

	root := app.RootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// RootCommand builds the command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatstream",
		Short:         "Streaming chat client for OpenAI-compatible APIs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.chatstream/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
	flags.StringVar(&a.backend, "storage", "", "storage backend: file, sqlite, redis, memory")
	flags.BoolVar(&a.ephemeral, "ephemeral", false, "keep everything in memory for this run")

	root.AddCommand(
		a.chatCommand(),
		a.askCommand(),
		a.modelsCommand(),
		a.conversationsCommand(),
		a.settingsCommand(),
		a.configCommand(),
	)
	return root
}

// =============================================================================
// SETUP
// =============================================================================

// setup loads the config and starts logging.
func (a *App) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := a.applyFlags(cfg); err != nil {
		return err
	}
	a.cfg = config.NewHolder(cfg)

	logger, out, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logging.Install(logger)
	a.log, a.logOut = logger, out
	return nil
}

// applyFlags layers the global flags over a loaded config.
func (a *App) applyFlags(cfg *config.Config) error {
	if a.ephemeral {
		if a.backend != "" && a.backend != kv.BackendMemory {
			return errors.New("--ephemeral conflicts with --storage " + a.backend)
		}
		a.backend = kv.BackendMemory
	}
	if a.backend != "" && a.backend != cfg.Storage.Backend {
		cfg.Storage.Backend = a.backend
		cfg.Storage.Path = ""
		if err := cfg.SetDefaults(); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "invalid --storage")
		}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	return nil
}

// reload installs a config re-read from disk. Flags still win, and the
// storage already open stays in use. The log level and the chat and title
// endpoints take effect immediately.
func (a *App) reload(cfg *config.Config) {
	if err := a.applyFlags(cfg); err != nil {
		a.log.Warn().Err(err).Msg("ignoring config change")
		return
	}
	if a.cfg != nil {
		cfg.Storage = a.cfg.Current().Storage
	}
	a.cfg.Set(cfg)
	if a.logOut != nil {
		a.logOut.SetLevel(logging.ParseLevel(cfg.Log.Level))
	}
	a.log.Info().
		Str("base_url", cfg.BaseURL).
		Str("title_base_url", cfg.Title.BaseURL).
		Str("log_level", cfg.Log.Level).
		Msg("config applied")
}

// kvStore opens the configured backend.
func (a *App) kvStore(ctx context.Context) (kv.Store, error) {
	if a.kv != nil {
		return a.kv, nil
	}
	opts := a.cfg.Current().StorageOptions()
	store, err := kv.Open(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s storage", opts.Backend)
	}
	a.log.Debug().Str("backend", opts.Backend).Str("path", opts.Path).Msg("storage opened")
	a.kv = store
	return store, nil
}

// conversations opens the conversation store.
func (a *App) conversations(ctx context.Context) (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	backing, err := a.kvStore(ctx)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, backing, a.log)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *App) cloudClient() *cloud.Client {
	if a.client == nil {
		a.client = cloud.NewClient().
			WithLogger(a.log).
			WithUserAgent("chatstream/" + Version)
	}
	return a.client
}

// settings returns the stored settings with the environment key applied.
func (a *App) settings(ctx context.Context) (config.Settings, error) {
	backing, err := a.kvStore(ctx)
	if err != nil {
		return config.Settings{}, err
	}
	st, err := config.LoadSettings(ctx, backing)
	if err != nil {
		return st, err
	}
	if key := a.cfg.Current().APIKeyOverride; key != "" {
		st.APIKey = key
	}
	return st, nil
}

// endpoint returns the chat endpoint for the current config.
func (a *App) endpoint(ctx context.Context) (cloud.Endpoint, error) {
	st, err := a.settings(ctx)
	if err != nil {
		return cloud.Endpoint{}, err
	}
	return cloud.Endpoint{BaseURL: a.cfg.Current().BaseURL, APIKey: st.APIKey}, nil
}

// chatService builds the send pipeline on first use.
func (a *App) chatService(ctx context.Context, observer chat.Observer) (*chat.Service, error) {
	if a.service != nil {
		return a.service, nil
	}
	store, err := a.conversations(ctx)
	if err != nil {
		return nil, err
	}

	client := a.cloudClient()
	titler := title.NewGenerator(client,
		title.WithTarget(func() title.Target {
			tc := a.cfg.Current().Title
			return title.Target{BaseURL: tc.BaseURL, ChatPath: tc.ChatPath, Model: tc.Model}
		}),
		title.WithLogger(a.log),
	)

	a.service = chat.NewService(chat.Options{
		Store:     store,
		Streamer:  client,
		Completer: client,
		Titler:    titler,
		Sessions:  session.NewManager(a.log),
		Settings:  a.settings,
		BaseURL:   func() string { return a.cfg.Current().BaseURL },
		Observer:  observer,
		Logger:    a.log,
	})
	return a.service, nil
}

// Close waits for background work and releases storage and the log file.
func (a *App) Close() {
	if a.service != nil {
		a.service.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close storage")
		}
	}
	if a.logOut != nil {
		_ = a.logOut.Close()
	}
}
