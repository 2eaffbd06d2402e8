package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyp3rd/ewrap"
	"github.com/spf13/cobra"

	taskapp "github.com/hyp3rd/go-taskapp"
	"github.com/hyp3rd/go-taskapp/middleware"
)

type workerOptions struct {
	queues      []string
	concurrency int
	beat        bool
}

func newWorkerCmd(root *rootOptions) *cobra.Command {
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued tasks until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), root, *opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.queues, "queues", "Q", nil, "queues to consume (defaults to task_default_queue)")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 0, "worker goroutines (defaults to worker_concurrency)")
	flags.BoolVarP(&opts.beat, "beat", "B", false, "also run the beat scheduler in this process")

	return cmd
}

func runWorker(parent context.Context, root *rootOptions, opts workerOptions) error {
	app, err := root.app()
	if err != nil {
		return err
	}

	defer closeApp(app)

	var workerOpts []taskapp.WorkerOption
	if len(opts.queues) > 0 {
		workerOpts = append(workerOpts, taskapp.WithQueues(opts.queues...))
	}

	if opts.concurrency > 0 {
		workerOpts = append(workerOpts, taskapp.WithConcurrency(opts.concurrency))
	}

	worker, err := app.Worker(workerOpts...)
	if err != nil {
		return ewrap.Wrap(err, "create worker")
	}

	app.SetHooks(middleware.NewLoggerHooks(app.Logger()))

	ctx, stop := signalContext(parent)
	defer stop()

	if opts.beat {
		beat, err := app.Beat()
		if err != nil {
			return ewrap.Wrap(err, "create beat")
		}

		err = beat.Start(ctx)
		if err != nil {
			return ewrap.Wrap(err, "start beat")
		}

		defer func() { _ = stopBeat(beat, root.timeout) }()
	}

	return worker.Run(ctx)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}

	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func closeApp(app *taskapp.App) {
	err := app.Close()
	if err != nil {
		app.Logger().Warn("close app", "error", err)
	}
}
