package taskapp

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/go-taskapp/settings"
)

var (
	appsMu     sync.RWMutex
	apps       = map[string]*App{}
	defaultApp atomic.Pointer[App]
)

// App is a named task-queue application. It owns the configuration bound
// from settings, the registry of tasks, the broker connection and the
// result backend.
type App struct {
	name   string
	logger *slog.Logger

	confMu        sync.RWMutex
	conf          *Conf
	installedApps []string

	registry *taskRegistry

	discoverMu sync.Mutex
	discovered bool

	connMu       sync.Mutex
	broker       Broker
	brokerOwned  bool
	results      ResultBackend
	resultsOwned bool
	resultsReady bool

	hooks   atomic.Pointer[Hooks]
	metrics taskMetrics
	otel    atomic.Pointer[otelMetrics]
	tracer  atomic.Pointer[tracerHolder]

	closed atomic.Bool
}

// New creates an app and records it in the process app table. Names are
// unique per process.
func New(name string, opts ...Option) (*App, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrAppNameRequired
	}

	cfg := appConfig{logger: slog.Default()}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	conf, err := newConf(nil)
	if err != nil {
		return nil, err
	}

	app := &App{
		name:     name,
		logger:   cfg.logger.With("app", name),
		conf:     conf,
		registry: newTaskRegistry(),
		broker:   cfg.broker,
		results:  cfg.results,
	}

	app.resultsReady = cfg.results != nil

	app.SetTracerProvider(cfg.tracer)

	if cfg.meterProvider != nil {
		err = app.SetMeterProvider(cfg.meterProvider, cfg.meterOpts...)
		if err != nil {
			return nil, err
		}
	}

	appsMu.Lock()
	defer appsMu.Unlock()

	if _, exists := apps[name]; exists {
		app.disableOTelMetrics()

		return nil, ewrap.Wrapf(ErrAppExists, "app %q", name)
	}

	apps[name] = app

	return app, nil
}

// Lookup returns the app registered under name.
func Lookup(name string) (*App, bool) {
	appsMu.RLock()
	defer appsMu.RUnlock()

	app, ok := apps[name]

	return app, ok
}

// Default returns the process default app, or nil.
func Default() *App {
	return defaultApp.Load()
}

// SetDefault makes app the process default.
func SetDefault(app *App) {
	defaultApp.Store(app)
}

// Name returns the app name.
func (a *App) Name() string {
	return a.name
}

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Conf returns the bound configuration.
func (a *App) Conf() *Conf {
	a.confMu.RLock()
	defer a.confMu.RUnlock()

	return a.conf
}

func (a *App) config() Config {
	return a.Conf().Config()
}

// InstalledApps returns the installed applications recorded from settings.
func (a *App) InstalledApps() []string {
	a.confMu.RLock()
	defer a.confMu.RUnlock()

	return slices.Clone(a.installedApps)
}

// ConfigFromSettings binds the options under namespace to the app. Only keys
// prefixed with the namespace are bound, with the prefix stripped. The
// settings' installed apps are remembered for task discovery.
func (a *App) ConfigFromSettings(s *settings.Settings, namespace string) error {
	if a.closed.Load() {
		return ErrAppClosed
	}

	if s == nil {
		return ErrSettingsRequired
	}

	conf, err := newConf(s.Namespace(namespace))
	if err != nil {
		return ewrap.Wrapf(err, "configure app %q from %s", a.name, s.Module())
	}

	a.confMu.Lock()
	a.conf = conf
	a.installedApps = s.InstalledApps()
	a.confMu.Unlock()

	a.logger.Debug("configuration bound",
		"settings_module", s.Module(),
		"namespace", namespace,
		"options", len(conf.raw))

	return nil
}

// ConfigFromObject resolves a lazily loaded settings object and binds it.
func (a *App) ConfigFromObject(ctx context.Context, lazy *settings.Lazy, namespace string) error {
	if lazy == nil {
		return ErrSettingsRequired
	}

	s, err := lazy.Resolve(ctx)
	if err != nil {
		return ewrap.Wrapf(err, "resolve settings for app %q", a.name)
	}

	return a.ConfigFromSettings(s, namespace)
}

// Register adds a task to the app.
func (a *App) Register(spec TaskSpec) (*Task, error) {
	if a.closed.Load() {
		return nil, ErrAppClosed
	}

	spec, err := spec.validate()
	if err != nil {
		return nil, err
	}

	task := &Task{app: a, spec: spec}

	err = a.registry.register(task)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// Task returns the registered task called name.
func (a *App) Task(name string) (*Task, bool) {
	return a.registry.lookup(name)
}

// Tasks returns a copy of the registered tasks keyed by name.
func (a *App) Tasks() map[string]*Task {
	return a.registry.snapshot()
}

// TaskNames returns the registered task names in sorted order.
func (a *App) TaskNames() []string {
	return a.registry.names()
}

// Broker returns the broker, connecting on first use.
func (a *App) Broker() (Broker, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if a.closed.Load() {
		return nil, ErrAppClosed
	}

	if a.broker != nil {
		return a.broker, nil
	}

	cfg := a.config()

	broker, err := OpenBroker(cfg.BrokerURL, cfg.BrokerTransportOptions)
	if err != nil {
		return nil, err
	}

	a.broker = broker
	a.brokerOwned = true

	return broker, nil
}

// ResultBackend returns the result backend, or nil when results are disabled.
func (a *App) ResultBackend() (ResultBackend, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if a.closed.Load() {
		return nil, ErrAppClosed
	}

	if a.resultsReady {
		return a.results, nil
	}

	cfg := a.config()

	backend, err := OpenResultBackend(cfg.ResultBackend, cfg.BrokerTransportOptions.GlobalKeyPrefix)
	if err != nil {
		return nil, err
	}

	a.results = backend
	a.resultsOwned = backend != nil
	a.resultsReady = true

	return backend, nil
}

// Close releases connections the app opened and removes it from the process
// app table.
func (a *App) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	appsMu.Lock()
	if apps[a.name] == a {
		delete(apps, a.name)
	}
	appsMu.Unlock()

	defaultApp.CompareAndSwap(a, nil)

	a.disableOTelMetrics()

	a.connMu.Lock()
	defer a.connMu.Unlock()

	var joined error

	if a.brokerOwned && a.broker != nil {
		err := a.broker.Close()
		if err != nil {
			joined = errors.Join(joined, ewrap.Wrap(err, "close broker"))
		}
	}

	if a.resultsOwned && a.results != nil {
		err := a.results.Close()
		if err != nil {
			joined = errors.Join(joined, ewrap.Wrap(err, "close result backend"))
		}
	}

	return joined
}
