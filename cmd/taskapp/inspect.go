package main

import (
	"context"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	taskapp "github.com/hyp3rd/go-taskapp"
)

const (
	outputYAML = "yaml"
	outputJSON = "json"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect the configured application",
	}

	cmd.AddCommand(newInspectRegisteredCmd(root))
	cmd.AddCommand(newInspectConfCmd(root))
	cmd.AddCommand(newInspectQueuesCmd(root))
	cmd.AddCommand(newInspectBeatCmd(root))

	return cmd
}

func newInspectRegisteredCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "registered",
		Short: "List registered tasks with their queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.app()
			if err != nil {
				return err
			}

			return printRegistered(cmd.OutOrStdout(), app)
		},
	}
}

func printRegistered(out io.Writer, app *taskapp.App) error {
	cfg := app.Conf().Config()
	tasks := app.Tasks()

	rows := make([][]string, 0, len(tasks))

	for _, name := range app.TaskNames() {
		spec := tasks[name].Spec()

		rateLimit := spec.RateLimit
		if rateLimit == "" {
			rateLimit = cfg.TaskDefaultRateLimit
		}

		rows = append(rows, []string{name, taskQueue(cfg, spec), orDash(rateLimit)})
	}

	renderTable(out, []string{"TASK", "QUEUE", "RATE LIMIT"}, rows)

	return nil
}

func newInspectConfCmd(root *rootOptions) *cobra.Command {
	var (
		format   string
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "conf",
		Short: "Print the bound options",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.app()
			if err != nil {
				return err
			}

			var value any = app.Conf().Raw()
			if defaults {
				value = app.Conf().Config()
			}

			return printValue(cmd.OutOrStdout(), value, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", outputYAML, "output format: yaml or json")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the typed configuration with defaults applied")

	return cmd
}

func newInspectQueuesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Print the number of waiting messages per known queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.app()
			if err != nil {
				return err
			}

			broker, err := app.Broker()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			queues := brokerQueues(app)
			rows := make([][]string, 0, len(queues))

			for _, queue := range queues {
				size, err := broker.Len(ctx, queue)
				if err != nil {
					return ewrap.Wrapf(err, "queue %q", queue)
				}

				rows = append(rows, []string{queue, strconv.FormatInt(size, 10)})
			}

			renderTable(cmd.OutOrStdout(), []string{"QUEUE", "MESSAGES"}, rows, 1)

			return nil
		},
	}
}

func newInspectBeatCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "beat",
		Short: "List beat entries with their next run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.app()
			if err != nil {
				return err
			}

			beat, err := app.Beat()
			if err != nil {
				return ewrap.Wrap(err, "create beat")
			}

			entries := beat.Entries()
			rows := make([][]string, 0, len(entries))

			for _, entry := range entries {
				rows = append(rows, []string{entry.Name, entry.Task, entry.Schedule, entry.Next.Format(time.RFC3339)})
			}

			renderTable(cmd.OutOrStdout(), []string{"ENTRY", "TASK", "SCHEDULE", "NEXT"}, rows)

			return nil
		},
	}
}

// brokerQueues lists every queue the configuration can route to.
func brokerQueues(app *taskapp.App) []string {
	cfg := app.Conf().Config()
	queues := map[string]struct{}{cfg.TaskDefaultQueue: {}}

	for _, route := range cfg.TaskRoutes {
		if route.Queue != "" {
			queues[route.Queue] = struct{}{}
		}
	}

	for _, entry := range cfg.BeatSchedule {
		if entry.Queue != "" {
			queues[entry.Queue] = struct{}{}
		}
	}

	for _, task := range app.Tasks() {
		queues[taskQueue(cfg, task.Spec())] = struct{}{}
	}

	return slices.Sorted(maps.Keys(queues))
}

func taskQueue(cfg taskapp.Config, spec taskapp.TaskSpec) string {
	if queue := cfg.QueueFor(spec.Name); queue != "" {
		return queue
	}

	if spec.Queue != "" {
		return spec.Queue
	}

	return cfg.TaskDefaultQueue
}

func printValue(out io.Writer, value any, format string) error {
	switch strings.ToLower(format) {
	case outputYAML:
		normalized, err := jsonShape(value)
		if err != nil {
			return err
		}

		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)

		err = encoder.Encode(normalized)
		if err != nil {
			return ewrap.Wrap(err, "encode yaml")
		}

		return encoder.Close()
	case outputJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(value)
		if err != nil {
			return ewrap.Wrap(err, "encode json")
		}

		return nil
	default:
		return ewrap.Newf("unsupported output format %q", format)
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}

	return value
}

// jsonShape re-decodes value through JSON so YAML output uses the JSON field
// names.
func jsonShape(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, ewrap.Wrap(err, "encode value")
	}

	var out any

	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, ewrap.Wrap(err, "decode value")
	}

	return out, nil
}
