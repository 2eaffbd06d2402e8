package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	taskapp "github.com/hyp3rd/go-taskapp"
)

const defaultWaitInterval = 100 * time.Millisecond

type callOptions struct {
	kwargs    string
	queue     string
	countdown time.Duration
	expires   time.Duration
	wait      bool
	waitFor   time.Duration
}

func newCallCmd(root *rootOptions) *cobra.Command {
	opts := &callOptions{waitFor: time.Minute}

	cmd := &cobra.Command{
		Use:   "call <task> [args]",
		Short: "Send a task by name; args is a JSON or YAML list",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) > 1 {
				raw = args[1]
			}

			return runCall(cmd, root, *opts, args[0], raw)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.kwargs, "kwargs", "", "keyword arguments as a JSON or YAML mapping")
	flags.StringVarP(&opts.queue, "queue", "Q", "", "override the routed queue")
	flags.DurationVar(&opts.countdown, "countdown", 0, "delay execution by this duration")
	flags.DurationVar(&opts.expires, "expires", 0, "revoke the task if it has not started within this duration")
	flags.BoolVar(&opts.wait, "wait", false, "wait for the result and print it")
	flags.DurationVar(&opts.waitFor, "wait-timeout", opts.waitFor, "how long --wait waits for the result")

	return cmd
}

func runCall(cmd *cobra.Command, root *rootOptions, opts callOptions, name, rawArgs string) error {
	args, err := decodeArgs(rawArgs)
	if err != nil {
		return err
	}

	kwargs, err := decodeKwargs(opts.kwargs)
	if err != nil {
		return err
	}

	app, err := root.app()
	if err != nil {
		return err
	}

	defer closeApp(app)

	ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
	defer cancel()

	res, err := app.SendTask(ctx, name, args, kwargs, opts.sendOptions(time.Now())...)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.ID.String())

	if !opts.wait {
		warnLocalOnly(app, res)

		return nil
	}

	return waitAndPrint(cmd, app, res, opts.waitFor)
}

// localOnly reports whether sent messages live only in this process.
func localOnly(app *taskapp.App) bool {
	if app.Conf().Config().TaskAlwaysEager {
		return false
	}

	broker, err := app.Broker()
	if err != nil {
		return false
	}

	_, memory := broker.(*taskapp.MemoryBroker)

	return memory
}

func warnLocalOnly(app *taskapp.App, res *taskapp.AsyncResult) {
	if !localOnly(app) {
		return
	}

	app.Logger().Warn("task sent to the in-process memory broker is dropped on exit; use --wait or a redis broker_url",
		"id", res.ID.String())
}

func (o callOptions) sendOptions(now time.Time) []taskapp.SendOption {
	var opts []taskapp.SendOption

	if o.queue != "" {
		opts = append(opts, taskapp.WithQueue(o.queue))
	}

	if o.countdown > 0 {
		opts = append(opts, taskapp.WithCountdown(o.countdown))
	}

	if o.expires > 0 {
		opts = append(opts, taskapp.WithExpires(now.Add(o.expires)))
	}

	return opts
}

// waitAndPrint polls for the result. With the in-process memory broker no
// other worker can see the message, so one runs here until the result lands.
func waitAndPrint(cmd *cobra.Command, app *taskapp.App, res *taskapp.AsyncResult, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if localOnly(app) {
		worker, err := app.Worker(taskapp.WithQueues(brokerQueues(app)...))
		if err != nil {
			return ewrap.Wrap(err, "create worker")
		}

		runCtx, stop := context.WithCancel(ctx)
		defer stop()

		go func() { _ = worker.Run(runCtx) }()
	}

	value, err := res.Get(ctx, defaultWaitInterval)
	if err != nil {
		return err
	}

	out, err := json.Marshal(value)
	if err != nil {
		return ewrap.Wrap(err, "encode result")
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return nil
}

// decodeArgs accepts a JSON or YAML sequence; empty input means no arguments.
func decodeArgs(raw string) ([]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var args []any

	err := decodeValue(raw, &args)
	if err != nil {
		return nil, ewrap.Wrap(err, "decode args")
	}

	return args, nil
}

// decodeKwargs accepts a JSON or YAML mapping.
func decodeKwargs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var kwargs map[string]any

	err := decodeValue(raw, &kwargs)
	if err != nil {
		return nil, ewrap.Wrap(err, "decode kwargs")
	}

	return kwargs, nil
}

// decodeValue tries JSON first and falls back to YAML, then normalizes the
// result through JSON so both paths yield the same Go types.
func decodeValue(raw string, out any) error {
	err := json.Unmarshal([]byte(raw), out)
	if err == nil {
		return nil
	}

	var value any

	yamlErr := yaml.Unmarshal([]byte(raw), &value)
	if yamlErr != nil {
		return ewrap.Wrap(yamlErr, "input is neither JSON nor YAML")
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return ewrap.Wrap(err, "normalize yaml")
	}

	err = json.Unmarshal(normalized, out)
	if err != nil {
		return ewrap.Wrap(err, "unexpected shape")
	}

	return nil
}
