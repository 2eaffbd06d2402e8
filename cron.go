package taskapp

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/robfig/cron/v3"
)

const (
	errParseCronSchedule = "parse cron schedule"
	cronFieldsStandard   = 5
	cronFieldsSeconds    = 6
)

// Beat sends the tasks of beat_schedule when their schedule fires.
type Beat struct {
	app  *App
	cron *cron.Cron

	mu      sync.RWMutex
	entries map[string]beatEntry
	ctx     context.Context
	running bool
}

type beatEntry struct {
	name     string
	spec     BeatEntry
	id       cron.EntryID
	schedule cron.Schedule
}

// BeatStatus describes a scheduled entry.
type BeatStatus struct {
	Name     string
	Task     string
	Schedule string
	Queue    string
	Next     time.Time
	Prev     time.Time
}

// Beat builds the periodic scheduler from beat_schedule, in the configured
// timezone. Entries naming unregistered tasks or carrying an invalid
// schedule are rejected.
func (a *App) Beat() (*Beat, error) {
	if a.closed.Load() {
		return nil, ErrAppClosed
	}

	cfg := a.config()
	location := cfg.Location()

	beat := &Beat{
		app:     a,
		cron:    cron.New(cron.WithLocation(location)),
		entries: make(map[string]beatEntry, len(cfg.BeatSchedule)),
		ctx:     context.Background(),
	}

	for _, name := range slices.Sorted(maps.Keys(cfg.BeatSchedule)) {
		err := beat.add(name, cfg.BeatSchedule[name])
		if err != nil {
			return nil, err
		}
	}

	return beat, nil
}

func (b *Beat) add(name string, spec BeatEntry) error {
	spec.Task = strings.TrimSpace(spec.Task)

	if !b.app.registry.has(spec.Task) {
		return ewrap.Wrapf(ErrBeatEntryInvalid, "entry %q: task %q is not registered", name, spec.Task)
	}

	schedule, err := parseCronSpec(spec.Schedule)
	if err != nil {
		return ewrap.Wrapf(ErrBeatEntryInvalid, "entry %q: %v", name, err)
	}

	entryID := b.cron.Schedule(schedule, cron.FuncJob(b.tick(name)))

	b.entries[name] = beatEntry{
		name:     name,
		spec:     spec,
		id:       entryID,
		schedule: schedule,
	}

	return nil
}

func (b *Beat) tick(name string) func() {
	return func() {
		b.mu.RLock()
		ctx := b.ctx
		b.mu.RUnlock()

		_, err := b.RunEntry(ctx, name)
		if err != nil {
			b.app.logger.Error("beat entry failed", "entry", name, "error", err)
		}
	}
}

// Start runs the scheduler in the background. Ticks send their tasks with
// ctx.
func (b *Beat) Start(ctx context.Context) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.ctx = ctx
	b.running = true
	b.cron.Start()

	b.app.logger.Info("beat started", "entries", len(b.entries))

	return nil
}

// Stop halts the scheduler and waits for running ticks or ctx.
func (b *Beat) Stop(ctx context.Context) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()

		return nil
	}

	b.running = false
	b.mu.Unlock()

	done := b.cron.Stop()

	select {
	case <-done.Done():
		b.app.logger.Info("beat stopped")

		return nil
	case <-ctx.Done():
		return ewrap.Wrap(ctx.Err(), "stop beat")
	}
}

// Entries returns the scheduled entries sorted by name.
func (b *Beat) Entries() []BeatStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]BeatStatus, 0, len(b.entries))

	for _, name := range slices.Sorted(maps.Keys(b.entries)) {
		entry := b.entries[name]
		cronEntry := b.cron.Entry(entry.id)

		next := cronEntry.Next
		if next.IsZero() {
			next = entry.schedule.Next(time.Now().In(b.cron.Location()))
		}

		out = append(out, BeatStatus{
			Name:     name,
			Task:     entry.spec.Task,
			Schedule: entry.spec.Schedule,
			Queue:    entry.spec.Queue,
			Next:     next,
			Prev:     cronEntry.Prev,
		})
	}

	return out
}

// RunEntry sends the task of the named entry now.
func (b *Beat) RunEntry(ctx context.Context, name string) (*AsyncResult, error) {
	b.mu.RLock()
	entry, ok := b.entries[name]
	b.mu.RUnlock()

	if !ok {
		return nil, ewrap.Wrapf(ErrBeatEntryNotFound, "entry %q", name)
	}

	var opts []SendOption
	if entry.spec.Queue != "" {
		opts = append(opts, WithQueue(entry.spec.Queue))
	}

	res, err := b.app.SendTask(ctx, entry.spec.Task, entry.spec.Args, entry.spec.Kwargs, opts...)
	if err != nil {
		return nil, ewrap.Wrapf(err, "beat entry %q", name)
	}

	b.app.logger.Debug("beat entry sent", "entry", name, "task", entry.spec.Task, "task_id", res.ID)

	return res, nil
}

// parseCronSpec accepts five-field, six-field (leading seconds) and
// descriptor ("@hourly", "@every 10s") schedules.
func parseCronSpec(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ewrap.New("cron schedule is required")
	}

	var parser cron.Parser

	switch len(strings.Fields(spec)) {
	case cronFieldsSeconds:
		parser = cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)
	case cronFieldsStandard:
		parser = cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)
	default:
		parser = cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)
	}

	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, ewrap.Wrap(err, errParseCronSchedule)
	}

	return schedule, nil
}
