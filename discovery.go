package taskapp

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/hyp3rd/ewrap"
)

// DefaultRelatedName is the module suffix searched in every installed app.
const DefaultRelatedName = "tasks"

// TaskModule declares the tasks of one module. It runs during discovery and
// registers tasks through the Registrar it receives.
type TaskModule func(r *Registrar) error

var (
	modulesMu sync.RWMutex
	modules   = map[string]TaskModule{}
)

// RegisterTaskModule makes a task module discoverable under name, usually
// "<app>.tasks". It is meant to be called from an init function and panics
// if name is empty, fn is nil or the name is taken.
func RegisterTaskModule(name string, fn TaskModule) {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("taskapp: RegisterTaskModule module name is empty")
	}

	if fn == nil {
		panic("taskapp: RegisterTaskModule module is nil for " + name)
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	if _, dup := modules[name]; dup {
		panic("taskapp: RegisterTaskModule called twice for " + name)
	}

	modules[name] = fn
}

// TaskModules returns the names of every registered task module.
func TaskModules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func lookupTaskModule(name string) (TaskModule, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	fn, ok := modules[name]

	return fn, ok
}

// Registrar stages the tasks declared by task modules during discovery.
type Registrar struct {
	app    *App
	module string
	staged []*Task
	names  map[string]string
}

func newRegistrar(app *App) *Registrar {
	return &Registrar{
		app:   app,
		names: map[string]string{},
	}
}

// App returns the app the tasks are registered with.
func (r *Registrar) App() *App {
	return r.app
}

// Module returns the name of the module being loaded.
func (r *Registrar) Module() string {
	return r.module
}

// Register stages a task. Staged tasks are only added to the app once every
// module loaded without error.
func (r *Registrar) Register(spec TaskSpec) (*Task, error) {
	spec, err := spec.validate()
	if err != nil {
		return nil, err
	}

	if owner, dup := r.names[spec.Name]; dup {
		return nil, ewrap.Wrapf(ErrTaskAlreadyRegistered, "task %q already declared by %s", spec.Name, owner)
	}

	if r.app.registry.has(spec.Name) {
		return nil, ewrap.Wrapf(ErrTaskAlreadyRegistered, "task %q", spec.Name)
	}

	task := &Task{app: r.app, spec: spec}

	r.names[spec.Name] = r.module
	r.staged = append(r.staged, task)

	return task, nil
}

func (r *Registrar) load(name string, fn TaskModule) (err error) {
	r.module = name

	defer func() {
		if recovered := recover(); recovered != nil {
			err = ewrap.Newf("task module panicked: %v", recovered)
		}
	}()

	return fn(r)
}

// AutodiscoverTasks loads the task modules of the given packages and
// registers their tasks. Without arguments it scans the installed apps
// recorded from settings followed by the imports option.
//
// For each package the module "<package>.tasks" is loaded; a package that is
// itself a registered module name is loaded as is. Packages without a task
// module are skipped. When any module fails, discovery stops and none of the
// tasks declared during this call are registered.
//
// Discovery runs once per app; later calls return nil without scanning.
func (a *App) AutodiscoverTasks(ctx context.Context, packages ...string) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	if a.closed.Load() {
		return ErrAppClosed
	}

	a.discoverMu.Lock()
	defer a.discoverMu.Unlock()

	if a.discovered {
		a.logger.Debug("task discovery already ran")

		return nil
	}

	if len(packages) == 0 {
		packages = append(a.InstalledApps(), a.config().Imports...)
	}

	registrar := newRegistrar(a)
	loaded := map[string]bool{}

	for _, pkg := range packages {
		err := ctx.Err()
		if err != nil {
			return ewrap.Wrap(err, "discover tasks")
		}

		name, fn, ok := resolveTaskModule(pkg)
		if !ok {
			a.logger.Debug("no task module", "package", pkg)

			continue
		}

		if loaded[name] {
			continue
		}

		loaded[name] = true

		err = registrar.load(name, fn)
		if err != nil {
			return ewrap.Wrapf(err, "load task module %q", name)
		}
	}

	err := a.registry.commit(registrar.staged)
	if err != nil {
		return ewrap.Wrap(err, "register discovered tasks")
	}

	a.discovered = true

	a.logger.Info("tasks discovered",
		"modules", len(loaded),
		"tasks", len(registrar.staged))

	return nil
}

func resolveTaskModule(pkg string) (string, TaskModule, bool) {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return "", nil, false
	}

	candidate := pkg + "." + DefaultRelatedName
	if fn, ok := lookupTaskModule(candidate); ok {
		return candidate, fn, true
	}

	if fn, ok := lookupTaskModule(pkg); ok {
		return pkg, fn, true
	}

	return "", nil, false
}
