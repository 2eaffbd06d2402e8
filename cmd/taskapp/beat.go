package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/spf13/cobra"

	taskapp "github.com/hyp3rd/go-taskapp"
)

func newBeatCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beat",
		Short: "Send the periodic tasks of beat_schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBeat(cmd.Context(), root)
		},
	}

	cmd.AddCommand(newBeatRunCmd(root))

	return cmd
}

func newBeatRunCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <entry>",
		Short: "Send the task of a beat entry now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.app()
			if err != nil {
				return err
			}

			defer closeApp(app)

			beat, err := app.Beat()
			if err != nil {
				return ewrap.Wrap(err, "create beat")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			res, err := beat.RunEntry(ctx, args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.ID.String())

			return nil
		},
	}
}

func runBeat(parent context.Context, root *rootOptions) error {
	app, err := root.app()
	if err != nil {
		return err
	}

	defer closeApp(app)

	beat, err := app.Beat()
	if err != nil {
		return ewrap.Wrap(err, "create beat")
	}

	ctx, stop := signalContext(parent)
	defer stop()

	err = beat.Start(ctx)
	if err != nil {
		return ewrap.Wrap(err, "start beat")
	}

	<-ctx.Done()

	return stopBeat(beat, root.timeout)
}

func stopBeat(beat *taskapp.Beat, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return beat.Stop(ctx)
}
