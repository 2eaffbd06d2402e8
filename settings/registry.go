package settings

import (
	"strings"
	"sync"
)

// Source produces the values of an in-process settings module.
type Source func() (map[string]any, error)

var (
	sourcesMu sync.RWMutex
	sources   = map[string]Source{}
)

// Register makes an in-process settings module available under name.
// It panics if name is empty, src is nil or the name is taken.
func Register(name string, src Source) {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("settings: Register module name is empty")
	}

	if src == nil {
		panic("settings: Register source is nil for " + name)
	}

	sourcesMu.Lock()
	defer sourcesMu.Unlock()

	if _, dup := sources[name]; dup {
		panic("settings: Register called twice for " + name)
	}

	sources[name] = src
}

// Registered reports whether an in-process module exists under name.
func Registered(name string) bool {
	_, ok := lookupSource(name)

	return ok
}

func lookupSource(name string) (Source, bool) {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()

	src, ok := sources[strings.TrimSpace(name)]

	return src, ok
}
