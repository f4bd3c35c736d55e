// Command spamhunter helps a reviewer triage newly registered accounts:
// it pages through the moderation feeds, shows each user's composite
// score and submits staged legit/suspect classifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "spamhunter:", err)
		stop()
		os.Exit(1)
	}
}

// options are the global flags. Empty values leave the configuration
// untouched.
type options struct {
	configPath string
	api        string
	source     string
	state      string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "spamhunter",
		Short: "Triage newly registered accounts for spam",
		Long: `spamhunter pages through the moderation feeds, shows each user's
composite score and submits staged classifications.

The current feed, cursor window and staged classifications are kept in a
sqlite session database so each invocation resumes where the last stopped.

Examples:
  spamhunter fetch                    # next page of older newcomers
  spamhunter fetch newer              # users registered since
  spamhunter stage --suspect 41,42 --legit 40
  spamhunter commit
  spamhunter watch --source admin     # poll and serve /metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&opts.api, "api", "", "moderation API base URL")
	f.StringVar(&opts.source, "source", "", "feed: newcomers, legit, suspect or admin")
	f.StringVar(&opts.state, "state", "", "session database path")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newFetchCmd(opts),
		newStageCmd(opts),
		newCommitCmd(opts),
		newWatchCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// config loads the configuration and applies the flags on top.
func (o *options) config() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.API, o.api)
	override(&cfg.State, o.state)
	override(&cfg.LogLevel, o.logLevel)
	if o.source != "" {
		cfg.Source = api.Source(o.source)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
