package settings

import (
	"os"
	"strings"

	"github.com/hyp3rd/ewrap"
	"gopkg.in/yaml.v3"
)

// ModuleEnv is the environment variable naming the settings module.
const ModuleEnv = "SETTINGS_MODULE"

// SetDefaultModule sets envKey to module unless the variable is already
// present in the environment. The first writer wins: an existing value, even
// an empty one, is never replaced. It reports whether the default was applied.
func SetDefaultModule(envKey, module string) (bool, error) {
	envKey = strings.TrimSpace(envKey)
	if envKey == "" {
		return false, ewrap.New("settings env key is required")
	}

	if _, ok := os.LookupEnv(envKey); ok {
		return false, nil
	}

	err := os.Setenv(envKey, module)
	if err != nil {
		return false, ewrap.Wrapf(err, "set %s", envKey)
	}

	return true, nil
}

// Environ returns the environment variables whose names start with one of
// prefixes. Values are parsed as YAML scalars or flow collections, so "4"
// becomes an int, "true" a bool and "[a, b]" a list; values that do not
// parse are kept as strings.
func Environ(prefixes ...string) map[string]any {
	out := map[string]any{}

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !hasAnyPrefix(key, prefixes) {
			continue
		}

		out[key] = parseEnvValue(value)
	}

	return out
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

func parseEnvValue(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return raw
	}

	var parsed any

	err := yaml.Unmarshal([]byte(raw), &parsed)
	if err != nil || parsed == nil {
		return raw
	}

	return parsed
}
