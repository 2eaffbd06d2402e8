package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/spf13/cobra"

	taskapp "github.com/hyp3rd/go-taskapp"
	"github.com/hyp3rd/go-taskapp/core"
)

const (
	defaultLogLevel = "info"
	defaultTimeout  = 5 * time.Second
)

type rootOptions struct {
	settingsModule string
	logLevel       string
	timeout        time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{
		logLevel: defaultLogLevel,
		timeout:  defaultTimeout,
	}

	cmd := &cobra.Command{
		Use:          "taskapp",
		Short:        "Run workers and the beat scheduler of the project task queue",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.setup()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.settingsModule, "settings", "", "settings module (defaults to $"+core.SettingsModuleEnv+" or "+core.DefaultSettingsModule+")")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn or error")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "timeout for broker and result backend operations")

	cmd.AddCommand(newWorkerCmd(opts))
	cmd.AddCommand(newBeatCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newInspectCmd(opts))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newCompletionCmd(cmd))

	return cmd
}

func (o *rootOptions) setup() error {
	level, err := parseLogLevel(o.logLevel)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if o.settingsModule != "" {
		err = os.Setenv(core.SettingsModuleEnv, o.settingsModule)
		if err != nil {
			return ewrap.Wrap(err, "set settings module")
		}
	}

	return nil
}

// app bootstraps the project application.
func (*rootOptions) app() (*taskapp.App, error) {
	app, err := core.Bootstrap()
	if err != nil {
		return nil, ewrap.Wrap(err, "bootstrap")
	}

	return app, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(strings.TrimSpace(raw)))
	if err != nil {
		return slog.LevelInfo, ewrap.Wrapf(err, "invalid log level %q", raw)
	}

	return level, nil
}
