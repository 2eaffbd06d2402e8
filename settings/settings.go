package settings

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// InstalledAppsKey lists the application packages known to the project.
const InstalledAppsKey = "INSTALLED_APPS"

// Settings is an immutable keyed configuration store.
type Settings struct {
	module string
	values map[string]any
}

// New builds a Settings value from raw values. Keys are normalized to upper
// case. When several keys normalize to the same name, the key already written
// in upper case wins, otherwise the first one in sorted order.
func New(module string, values map[string]any) *Settings {
	normalized := make(map[string]any, len(values))
	for _, raw := range slices.Sorted(maps.Keys(values)) {
		key := normalizeKey(raw)
		if key == "" {
			continue
		}

		if _, seen := normalized[key]; seen && raw != key {
			continue
		}

		normalized[key] = values[raw]
	}

	return &Settings{
		module: module,
		values: normalized,
	}
}

// Module returns the identifier of the module the settings were loaded from.
func (s *Settings) Module() string {
	return s.module
}

// Get returns the raw value stored under key.
func (s *Settings) Get(key string) (any, bool) {
	value, ok := s.values[normalizeKey(key)]

	return value, ok
}

// String returns the value stored under key formatted as a string.
func (s *Settings) String(key string) string {
	value, ok := s.Get(key)
	if !ok || value == nil {
		return ""
	}

	if str, isString := value.(string); isString {
		return str
	}

	return fmt.Sprint(value)
}

// StringSlice returns the value stored under key as a list of strings.
// A single string is treated as a one-element list.
func (s *Settings) StringSlice(key string) []string {
	value, ok := s.Get(key)
	if !ok || value == nil {
		return nil
	}

	switch typed := value.(type) {
	case []string:
		return slices.Clone(typed)
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil
		}

		return []string{typed}
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}

			out = append(out, fmt.Sprint(item))
		}

		return out
	default:
		return []string{fmt.Sprint(typed)}
	}
}

// InstalledApps returns the INSTALLED_APPS list.
func (s *Settings) InstalledApps() []string {
	return s.StringSlice(InstalledAppsKey)
}

// Keys returns every key in sorted order.
func (s *Settings) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Namespace returns the options whose keys start with prefix followed by an
// underscore. The prefix is stripped and the remainder lower-cased, so
// TASKAPP_BROKER_URL becomes broker_url. An empty prefix selects every key.
func (s *Settings) Namespace(prefix string) map[string]any {
	prefix = normalizeKey(prefix)

	out := make(map[string]any)

	for key, value := range s.values {
		if prefix == "" {
			out[strings.ToLower(key)] = value

			continue
		}

		rest, ok := strings.CutPrefix(key, prefix+"_")
		if !ok || rest == "" {
			continue
		}

		out[strings.ToLower(rest)] = value
	}

	return out
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
