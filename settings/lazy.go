package settings

import (
	"context"
	"os"
	"sync"

	"github.com/hyp3rd/ewrap"
)

// Lazy resolves a settings module on first use. The module identifier is
// read from an environment variable at resolution time, so the variable can
// be defaulted after the Lazy value is created.
//
// A successful resolution is cached; a failed one is not.
type Lazy struct {
	envKey string
	opts   []LoadOption

	mu       sync.Mutex
	resolved *Settings
}

var defaultLazy = NewLazy(ModuleEnv)

// Default returns the process settings object bound to SETTINGS_MODULE.
func Default() *Lazy {
	return defaultLazy
}

// NewLazy creates a lazily resolved settings object bound to envKey.
func NewLazy(envKey string, opts ...LoadOption) *Lazy {
	return &Lazy{
		envKey: envKey,
		opts:   opts,
	}
}

// EnvKey returns the environment variable the module name is read from.
func (l *Lazy) EnvKey() string {
	return l.envKey
}

// Resolve loads the settings module named by the environment variable.
func (l *Lazy) Resolve(ctx context.Context) (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resolved != nil {
		return l.resolved, nil
	}

	module, ok := os.LookupEnv(l.envKey)
	if !ok || module == "" {
		return nil, ewrap.Wrapf(ErrModuleNotConfigured, "%s is not set", l.envKey)
	}

	resolved, err := Load(ctx, module, l.opts...)
	if err != nil {
		return nil, err
	}

	l.resolved = resolved

	return resolved, nil
}

// Configured reports whether the settings have been resolved.
func (l *Lazy) Configured() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.resolved != nil
}

// Reset drops the cached settings so the next Resolve loads them again.
func (l *Lazy) Reset() {
	l.mu.Lock()
	l.resolved = nil
	l.mu.Unlock()
}
