// Command skystories serves the SkyStories character stories, voice
// conversations and ambient starfield to the browser, and can play or query
// stories from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/skystories/internal/app"
	"github.com/MrWong99/skystories/internal/config"
	"github.com/MrWong99/skystories/internal/observe"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "skystories: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFiles   []string

	level  slog.LevelVar
	loaded *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "skystories",
		Short: "Animated character stories and voice conversations",
		Long: `SkyStories serves five aviation and space characters to the browser:
typed-out stories, AI voice conversations with a live transcript, and an
ambient starfield. Without a config file the built-in defaults are used;
ELEVENLABS_* and OPENAI_API_KEY environment variables fill in credentials.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (default: built-in defaults)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default: .env.local, .env)")

	root.AddCommand(
		newServeCmd(opts),
		newCharactersCmd(opts),
		newPlayCmd(opts),
		newAskCmd(opts),
	)
	return root
}

// loadConfig reads the dotenv files, the config file and the environment
// overlay, then installs the default logger at the configured level.
func (o *rootOptions) loadConfig(stderr io.Writer) (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found (copy configs/example.yaml to get started)", o.configPath)
		}
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	o.level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(stderr, &o.level))
	return cfg, nil
}

// buildProviders instantiates the configured backends. Missing credentials
// leave a provider unconfigured rather than failing.
func buildProviders(cfg *config.Config, m *observe.Metrics) (*app.Providers, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	return app.BuildProviders(cfg, reg, m)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
