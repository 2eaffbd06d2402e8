// Package reports aggregates numeric series into summary reports.
package reports

import (
	"context"
	"math"
	"time"

	"github.com/hyp3rd/ewrap"

	taskapp "github.com/hyp3rd/go-taskapp"
)

// Task names.
const (
	GenerateTask     = "reports.generate"
	DailySummaryTask = "reports.daily_summary"
)

const generateTimeLimit = time.Minute

var errInvalidSeries = ewrap.New("report series must be a list of numbers")

func init() {
	taskapp.RegisterTaskModule("reports.tasks", register)
}

func register(r *taskapp.Registrar) error {
	_, err := r.Register(taskapp.TaskSpec{
		Name:      GenerateTask,
		Fn:        generate,
		Queue:     "reports",
		TimeLimit: generateTimeLimit,
	})
	if err != nil {
		return err
	}

	_, err = r.Register(taskapp.TaskSpec{
		Name:      DailySummaryTask,
		Fn:        dailySummary,
		AutoRetry: true,
	})

	return err
}

// Summary describes a numeric series.
type Summary struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Summarize computes the summary of values.
func Summarize(name string, values []float64) Summary {
	summary := Summary{Name: name, Count: len(values)}
	if len(values) == 0 {
		return summary
	}

	summary.Min = math.Inf(1)
	summary.Max = math.Inf(-1)

	for _, value := range values {
		summary.Sum += value
		summary.Min = min(summary.Min, value)
		summary.Max = max(summary.Max, value)
	}

	summary.Mean = summary.Sum / float64(len(values))

	return summary
}

// generate takes the report name and the series as positional arguments.
func generate(ctx context.Context, args []any, _ map[string]any) (any, error) {
	const wantArgs = 2

	if len(args) != wantArgs {
		return nil, ewrap.Newf("generate expects 2 arguments, got %d", len(args))
	}

	name, ok := args[0].(string)
	if !ok || name == "" {
		return nil, ewrap.New("report name must be a non-empty string")
	}

	values, err := toFloats(args[1])
	if err != nil {
		return nil, err
	}

	err = ctx.Err()
	if err != nil {
		return nil, ewrap.Wrap(err, "generate report")
	}

	return Summarize(name, values), nil
}

// dailySummary reports on the day before the given date (YYYY-MM-DD kwarg
// "date", today when missing).
func dailySummary(_ context.Context, _ []any, kwargs map[string]any) (any, error) {
	day := time.Now().UTC()

	if raw, ok := kwargs["date"].(string); ok && raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, ewrap.Wrapf(err, "parse date %q", raw)
		}

		day = parsed
	}

	return map[string]any{
		"report": "daily",
		"day":    day.AddDate(0, 0, -1).Format(time.DateOnly),
	}, nil
}

func toFloats(raw any) ([]float64, error) {
	switch typed := raw.(type) {
	case []float64:
		return typed, nil
	case []any:
		out := make([]float64, 0, len(typed))

		for _, item := range typed {
			switch number := item.(type) {
			case float64:
				out = append(out, number)
			case int:
				out = append(out, float64(number))
			default:
				return nil, ewrap.Wrapf(errInvalidSeries, "unexpected %T", item)
			}
		}

		return out, nil
	default:
		return nil, ewrap.Wrapf(errInvalidSeries, "unexpected %T", raw)
	}
}
