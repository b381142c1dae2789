package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrWong99/skystories/internal/app"
	"github.com/MrWong99/skystories/internal/story"
)

func newCharactersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "characters",
		Short: "List the characters and their story ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.offlineApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
			for _, ch := range a.Catalog().List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.ID, ch.DisplayName(), ch.Description)
			}
			return tw.Flush()
		},
	}
}

func newPlayCmd(opts *rootOptions) *cobra.Command {
	var (
		generate bool
		instant  bool
	)
	cmd := &cobra.Command{
		Use:   "play <character>",
		Short: "Tell a character's story in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := opts.offlineApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg := opts.loaded

			var script story.Script
			if generate {
				script, _, err = a.Generator().Script(ctx, args[0])
			} else {
				script, err = a.Catalog().Script(args[0])
			}
			if err != nil {
				return err
			}

			var seqOpts []story.Option
			switch {
			case instant:
				seqOpts = append(seqOpts, story.WithTyping(0), story.WithPause(0))
			default:
				if cfg.Story.Typing > 0 {
					seqOpts = append(seqOpts, story.WithTyping(cfg.Story.Typing))
				}
				if cfg.Story.Pause > 0 {
					seqOpts = append(seqOpts, story.WithPause(cfg.Story.Pause))
				}
			}
			return playScript(ctx, cmd.OutOrStdout(), story.NewSequencer(seqOpts...), script)
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "ask the configured models for a fresh story")
	cmd.Flags().BoolVar(&instant, "instant", false, "reveal every beat without typing delays")
	return cmd
}

// playScript prints each beat as the sequencer reveals it.
func playScript(ctx context.Context, w io.Writer, seq *story.Sequencer, script story.Script) error {
	start := time.Now()
	total := script.Len()
	return story.Play(ctx, seq, script, func(ev story.Event) error {
		switch ev.Kind {
		case story.EventBeatRevealed:
			label := humanize.Ordinal(ev.Index+1) + " of " + humanize.Comma(int64(total))
			if ev.Beat.Kind == story.KindImage {
				_, err := fmt.Fprintf(w, "[%s] 🖼  %s\n    %s\n\n", label, ev.Beat.Content, ev.Beat.MediaRef)
				return err
			}
			_, err := fmt.Fprintf(w, "[%s] %s\n\n", label, ev.Beat.Content)
			return err
		case story.EventCompleted:
			_, err := fmt.Fprintf(w, "The end (%s).\n", time.Since(start).Round(100*time.Millisecond))
			return err
		}
		return nil
	})
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <character> <question...>",
		Short: "Ask a character a follow-up question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.offlineApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ch, err := a.Catalog().Get(args[0])
			if err != nil {
				return err
			}
			ans, err := a.Generator().Ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", ch.Name, ans.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "(answer source: %s)\n", ans.Source)
			return nil
		},
	}
}

// offlineApp builds the application without serving it, for the terminal
// commands.
func (o *rootOptions) offlineApp(stderr io.Writer) (*app.App, error) {
	cfg, err := o.loadConfig(stderr)
	if err != nil {
		return nil, err
	}
	o.loaded = cfg
	providers, err := buildProviders(cfg, nil)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, providers, app.WithLogLevel(&o.level))
}
