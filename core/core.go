// Package core bootstraps the project's task-queue application.
//
// Importing the package links the installed applications into the binary;
// calling Bootstrap (or App) defaults the settings module, creates the "core"
// app, binds the TASKAPP_ options of the settings and discovers the task
// modules of every installed application. The sequence runs once per process.
package core

import (
	"context"
	"sync"

	"github.com/hyp3rd/ewrap"

	taskapp "github.com/hyp3rd/go-taskapp"
	"github.com/hyp3rd/go-taskapp/settings"
)

const (
	// SettingsModuleEnv names the settings module to load.
	SettingsModuleEnv = settings.ModuleEnv
	// DefaultSettingsModule is used when SettingsModuleEnv is unset.
	DefaultSettingsModule = "core.settings"
	// AppName is the name of the project's task-queue application.
	AppName = "core"
	// Namespace selects the settings keys bound to the application.
	Namespace = "TASKAPP"
)

var (
	bootOnce sync.Once
	bootApp  *taskapp.App
	bootErr  error
)

// Bootstrap configures the project application on first call and returns the
// same app, or the same error, on every later call.
func Bootstrap() (*taskapp.App, error) {
	bootOnce.Do(func() {
		bootApp, bootErr = bootstrap(context.Background(), SettingsModuleEnv, settings.Default(), AppName)
	})

	return bootApp, bootErr
}

// App returns the bootstrapped application and panics if bootstrap failed.
func App() *taskapp.App {
	app, err := Bootstrap()
	if err != nil {
		panic("core: bootstrap failed: " + err.Error())
	}

	return app
}

func bootstrap(ctx context.Context, envKey string, lazy *settings.Lazy, name string, opts ...taskapp.Option) (*taskapp.App, error) {
	_, err := settings.SetDefaultModule(envKey, DefaultSettingsModule)
	if err != nil {
		return nil, ewrap.Wrap(err, "default settings module")
	}

	app, err := taskapp.New(name, opts...)
	if err != nil {
		return nil, ewrap.Wrapf(err, "create app %q", name)
	}

	err = app.ConfigFromObject(ctx, lazy, Namespace)
	if err != nil {
		return nil, discard(app, err)
	}

	err = app.AutodiscoverTasks(ctx)
	if err != nil {
		return nil, discard(app, err)
	}

	taskapp.SetDefault(app)

	return app, nil
}

// discard closes an app whose bootstrap failed so no half-configured app
// stays in the process table.
func discard(app *taskapp.App, cause error) error {
	closeErr := app.Close()
	if closeErr != nil {
		app.Logger().Warn("close app after failed bootstrap", "error", closeErr)
	}

	return ewrap.Wrapf(cause, "bootstrap app %q", app.Name())
}
