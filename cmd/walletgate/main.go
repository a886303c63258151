package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"walletgate/internal/arbiter"
	"walletgate/internal/bus"
	"walletgate/internal/channel"
	"walletgate/internal/config"
	"walletgate/internal/decision"
	"walletgate/internal/decode"
	"walletgate/internal/domain"
	"walletgate/internal/metrics"
	"walletgate/internal/popup"
	"walletgate/internal/settings"
	"walletgate/internal/telemetry"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "walletgate",
		Short: "walletgate: local arbitration gateway for wallet requests",
		Long:  "walletgate receives intercepted wallet requests from a browser extension, decides which ones deserve a warning, raises the popup, and routes the user's verdict back.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.walletgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(allowlistCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			store, err := settings.NewSQLiteStore(config.ExpandPath(cfg.Settings.DBPath), logger)
			if err != nil {
				logger.Info("settings store", "path", cfg.Settings.DBPath, "reachable", false, "err", err)
				return nil
			}
			defer store.Close()

			ctx := context.Background()
			approval, _ := store.Get(ctx, domain.SettingsScope, domain.KeyWarnOnApproval, cfg.Warnings.Approval)
			listing, _ := store.Get(ctx, domain.SettingsScope, domain.KeyWarnOnListing, cfg.Warnings.Listing)
			hash, _ := store.Get(ctx, domain.SettingsScope, domain.KeyWarnOnHashSignatures, cfg.Warnings.HashSignatures)
			logger.Info("warnings",
				"approval", approval,
				"listing", listing,
				"hash_signatures", hash,
			)
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
		Short: "Get a config value (e.g. gateway.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
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
		Short: "Set a config value (e.g. warnings.approval false)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
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
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
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

func allowlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Manage warning allow-lists",
	}

	openStore := func() (*settings.SQLiteStore, error) {
		cfg, _, err := loadConfig()
		if err != nil {
			cfg = config.Defaults()
		}
		return settings.NewSQLiteStore(config.ExpandPath(cfg.Settings.DBPath), logger)
	}

	parseKind := func(s string) (domain.WarningKind, error) {
		switch domain.WarningKind(s) {
		case domain.WarningAllowance, domain.WarningListing, domain.WarningHash:
			return domain.WarningKind(s), nil
		}
		return "", fmt.Errorf("kind must be allowance, listing, or hash (got %q)", s)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Import hostnames from a YAML allow-list file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.ImportAllowlists(context.Background(), args[0])
			if err != nil {
				return err
			}
			logger.Info("import complete", "entries", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [kind] [hostname]",
		Short: "Exempt a hostname from warnings of a kind",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Allowlist(context.Background(), kind, args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [kind] [hostname]",
		Short: "Remove a hostname exemption",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.RemoveAllowlist(context.Background(), kind, args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [kind]",
		Short: "List exempted hostnames for a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			hosts, err := store.ListAllowlist(context.Background(), kind)
			if err != nil {
				return err
			}
			for _, h := range hosts {
				fmt.Println(h)
			}
			return nil
		},
	})

	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the arbitration gateway",
		Long:  "Starts the HTTP and WebSocket channels, the decision engine, and the popup presenter. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

// busVerdictChannel delivers verdicts back through the message bus to the
// channel that carried the request.
type busVerdictChannel struct {
	bus      domain.MessageBus
	channel  string
	clientID string
}

func (c busVerdictChannel) Deliver(v domain.Verdict) {
	c.bus.SendVerdict(domain.OutboundVerdict{
		Channel:  c.channel,
		ClientID: c.clientID,
		Verdict:  v,
	})
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	store, err := settings.NewSQLiteStore(config.ExpandPath(cfg.Settings.DBPath), logger)
	if err != nil {
		return fmt.Errorf("settings store: %w", err)
	}
	defer store.Close()

	if cfg.Warnings.AllowlistFile != "" {
		if n, err := store.ImportAllowlists(ctx, cfg.Warnings.AllowlistFile); err != nil {
			logger.Warn("allowlist import failed", "path", cfg.Warnings.AllowlistFile, "err", err)
		} else {
			logger.Info("allowlist imported at startup", "entries", n)
		}
	}

	emitter := telemetry.NewEmitter(events, store, logger)

	registry := arbiter.NewRegistry(logger)
	registry.OnDelivered(func(id string, approved bool) {
		emitter.VerdictDelivered(id, approved)
		metrics.ActiveRegistrations.Set(int64(registry.Outstanding()))
	})
	registry.OnDropped(func(id string, approved bool) {
		emitter.VerdictDropped(id, approved)
	})

	engine := decision.NewEngine(cfg.Warnings, decode.New(), store, registry, emitter, logger)

	baseURL := cfg.Popup.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d/popup", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	refWindow := func(ctx context.Context, req domain.Request) (domain.WindowBounds, error) {
		if req.Window == nil {
			return domain.WindowBounds{}, fmt.Errorf("request %s carries no window bounds", req.ID)
		}
		return *req.Window, nil
	}
	window := popup.NewWindow(cfg.Popup, baseURL, refWindow, logger)
	defer window.Close()

	intake := arbiter.NewIntake(engine, registry, window, emitter, logger)

	// Dispatch loop: every inbound request is handled on its own goroutine
	// since prompted requests park until the user acts.
	go func() {
		for msg := range messageBus.Subscribe() {
			events.EmitAsync(bus.Event{
				Type:   bus.EventRequestReceived,
				Source: msg.Channel,
				Payload: map[string]any{
					"request_id": msg.Request.ID,
					"hostname":   msg.Request.Hostname,
					"type":       string(msg.Request.Type),
				},
			})
			m := msg
			go func() {
				intake.Handle(ctx, m.Request, busVerdictChannel{
					bus:      messageBus,
					channel:  m.Channel,
					clientID: m.ClientID,
				})
				metrics.ActiveRegistrations.Set(int64(registry.Outstanding()))
			}()
		}
	}()

	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token != "" {
		notifier := channel.NewTelegram(channel.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
			Logger: logger,
		})
		if err := notifier.Connect(); err != nil {
			logger.Warn("telegram notifier unavailable", "err", err)
		} else {
			notifier.Watch(events)
			logger.Info("telegram notifier enabled")
		}
	}

	webCh := channel.NewWeb(channel.WebConfig{
		Host:       cfg.Gateway.Host,
		Port:       cfg.Gateway.Port,
		Logger:     logger,
		Resolver:   registry,
		Store:      store,
		Config:     cfg,
		ConfigPath: cfgPath,
		Version:    version,
	})
	go func() {
		if err := webCh.Start(ctx, messageBus); err != nil {
			logger.Error("web channel error", "err", err)
			stop()
		}
	}()

	wsCh := channel.NewWebSocketChannel(channel.WSConfig{
		Port:   cfg.Gateway.WSPort,
		Path:   cfg.Gateway.WSPath,
		Logger: logger,
	})
	go func() {
		if err := wsCh.Start(ctx, messageBus); err != nil {
			logger.Error("websocket channel error", "err", err)
			stop()
		}
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.",
		"http", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		"ws", fmt.Sprintf(":%d%s", cfg.Gateway.WSPort, cfg.Gateway.WSPath),
	)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		webCh.Stop()
		window.Close()
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func applyLogLevel(level string) {
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
