package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"onboardbot/internal/bot"
	"onboardbot/internal/config"
	"onboardbot/internal/conversation"
	"onboardbot/internal/exchange"
	"onboardbot/internal/reconcile"
	"onboardbot/internal/store"
	"onboardbot/internal/telegram"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "onboardbot",
		Short: "Onboarding bot and payment reconciliation daemon",
		Long:  "onboardbot runs a Telegram onboarding conversation and reconciles waiting registrations against the exchange's invited-user list.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.onboardbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(botCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	setLogLevel(cfg.General.LogLevel)
	return cfg, nil
}

func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists", "path", cfgPath)
				return nil
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot and reconciliation loops together",
		Long:  "Starts the Telegram polling loop and the reconciliation loop. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(true, true)
		},
	}
}

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run only the Telegram onboarding loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(true, false)
		},
	}
}

func reconcileCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run only the reconciliation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				return runReconcileOnce()
			}
			return runDaemon(false, true)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single reconciliation cycle and exit")
	return cmd
}

func runDaemon(withBot, withReconcile bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recordStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	catalog, err := conversation.LoadCatalog(cfg.Conversation.CatalogPath)
	if err != nil {
		return fmt.Errorf("reply catalog: %w", err)
	}

	var notifier *telegram.Channel
	if withBot || withReconcile {
		notifier, err = telegram.New(telegram.Config{
			Token:              cfg.Telegram.Token,
			PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
			Logger:             logger,
		})
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)

	if withReconcile {
		engine, err := buildReconcileEngine(cfg, recordStore, notifier, catalog)
		if err != nil {
			return err
		}
		interval := time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second
		go func() {
			errCh <- engine.Run(ctx, interval)
		}()
		logger.Info("reconciliation loop started", "interval", interval)
	}

	if withBot {
		convEngine := conversation.NewEngine(conversation.EngineConfig{
			Store:            recordStore,
			Catalog:          catalog,
			Logger:           logger,
			InstructionImage: cfg.Conversation.InstructionImage,
		})
		loop := bot.NewLoop(bot.Config{
			Source:     notifier,
			Handler:    convEngine,
			Notifier:   notifier,
			Store:      recordStore,
			Logger:     logger,
			BatchLimit: cfg.Telegram.BatchLimit,
			IdleSleep:  time.Duration(cfg.Telegram.IdleSleepMS) * time.Millisecond,
			RetrySleep: time.Duration(cfg.Telegram.RetrySleepSeconds) * time.Second,
		})
		go func() {
			errCh <- loop.Run(ctx)
		}()
	}

	logger.Info("onboardbot started. Press Ctrl+C to stop.", "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

func runReconcileOnce() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recordStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	catalog, err := conversation.LoadCatalog(cfg.Conversation.CatalogPath)
	if err != nil {
		return fmt.Errorf("reply catalog: %w", err)
	}

	notifier, err := telegram.New(telegram.Config{
		Token:              cfg.Telegram.Token,
		PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	engine, err := buildReconcileEngine(cfg, recordStore, notifier, catalog)
	if err != nil {
		return err
	}
	return engine.Cycle(ctx)
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := config.ExpandPath(cfg.Store.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(dbPath, logger)
}

func buildReconcileEngine(cfg *config.Config, recordStore *store.SQLiteStore, notifier *telegram.Channel, catalog *conversation.Catalog) (*reconcile.Engine, error) {
	client, err := exchange.New(exchange.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.Exchange.APIKey,
		SecretKey: cfg.Exchange.SecretKey,
		PageSize:  cfg.Exchange.PageSize,
		PageDelay: time.Duration(cfg.Exchange.PageDelayMS) * time.Millisecond,
		Timeout:   time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return reconcile.NewEngine(reconcile.Config{
		Store:    recordStore,
		Fetcher:  client,
		Notifier: notifier,
		Policy: exchange.TerminationPolicy{
			ConsecutiveKnownLimit: cfg.Exchange.ConsecutiveKnownLimit,
			SentinelAccountID:     cfg.Exchange.SentinelAccountID,
			UseReportedTotal:      cfg.Exchange.UseReportedTotal,
			RefreshKnown:          cfg.Exchange.KnownPolicy != "drop",
		},
		Threshold: cfg.Reconcile.Threshold,
		Message:   catalog.CompletionMessage(),
		Logger:    logger,
	}), nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer recordStore.Close()

			counts, err := recordStore.SessionCounts(context.Background())
			if err != nil {
				return err
			}
			cursor, err := recordStore.Cursor(context.Background())
			if err != nil {
				return err
			}

			logger.Info("store", "db", config.ExpandPath(cfg.Store.DBPath), "cursor", cursor)
			for state, n := range counts {
				fmt.Printf("%-16s %d\n", state, n)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. reconcile.threshold)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. reconcile.threshold 20)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
