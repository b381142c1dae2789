package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrWong99/skystories/internal/app"
	"github.com/MrWong99/skystories/internal/config"
	"github.com/MrWong99/skystories/internal/observe"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var reload time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(opts, reload)
		},
	}
	cmd.Flags().DurationVar(&reload, "reload-interval", 5*time.Second, "how often the config file is checked for changes (0 disables reloading)")
	return cmd
}

func serve(opts *rootOptions, reload time.Duration) error {
	cfg, err := opts.loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	slog.Info("skystories starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	warnMissingCredentials(cfg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg, tel.Metrics)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	printStartupSummary(os.Stdout, cfg, providers)

	application, err := app.New(cfg, providers,
		app.WithLogLevel(&opts.level),
		app.WithTelemetry(tel),
		app.WithCloser(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tel.Shutdown(shutdownCtx)
		}),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	if opts.configPath != "" && reload > 0 {
		w, err := config.NewWatcher(opts.configPath, application.ApplyConfig,
			config.WithInterval(reload),
			config.WithDecoder(decodeWithEnv),
		)
		if err != nil {
			slog.Warn("config reloading disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// decodeWithEnv applies the environment overlay to every reloaded file so
// credentials from the environment survive a reload.
func decodeWithEnv(r io.Reader) (*config.Config, error) {
	cfg, err := config.LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func warnMissingCredentials(cfg *config.Config) {
	conv := cfg.Conversation
	if conv.Provider.APIKey == "" || conv.AgentID == "" {
		slog.Warn("conversation credentials incomplete, voice conversations will report a configuration error",
			"api_key_set", conv.Provider.APIKey != "",
			"agent_id_set", conv.AgentID != "",
		)
	}
	if cfg.AI.Enabled && cfg.AI.LLM.APIKey == "" && cfg.AI.LLM.Name == "openai" {
		slog.Warn("ai enabled without an openai api key, stories use static content")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, ps *app.Providers) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       SkyStories, startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Conversation", cfg.Conversation.Provider.Name, "", ps.ConvAI != nil)
	if cfg.AI.Enabled {
		printProvider(w, "LLM", cfg.AI.LLM.Name, cfg.AI.LLM.Model, ps.LLM != nil)
		printProvider(w, "Image", cfg.AI.Image.Name, cfg.AI.Image.Model, ps.Image != nil)
		if n := len(cfg.AI.LLMFallbacks); n > 0 {
			printRow(w, "LLM fallbacks", humanize.Comma(int64(n)))
		}
	} else {
		printRow(w, "AI stories", "(disabled)")
	}
	stars := cfg.Starfield.Params()
	printRow(w, "Starfield", humanize.Comma(int64(stars.Count))+" stars")
	if cfg.Server.MaxSessions > 0 {
		printRow(w, "Max sessions", humanize.Comma(int64(cfg.Server.MaxSessions)))
	}
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string, ok bool) {
	value := name
	switch {
	case name == "" || !ok:
		value = "(not configured)"
	case model != "":
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
