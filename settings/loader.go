package settings

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
	sectools "github.com/hyp3rd/sectools/pkg/io"
	"gopkg.in/yaml.v3"
)

var (
	// ErrModuleNotConfigured is returned when no settings module identifier is set.
	ErrModuleNotConfigured = ewrap.New("settings module is not configured")
	// ErrModuleNotFound is returned when a settings module cannot be resolved.
	ErrModuleNotFound = ewrap.New("settings module not found")
	// ErrInvalidModuleName is returned for identifiers that are not dotted names.
	ErrInvalidModuleName = ewrap.New("invalid settings module name")
)

var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

var fileExtensions = []string{".yaml", ".yml", ".json"}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	searchRoot string
	skipFiles  bool
}

// WithSearchRoot sets the directory file-backed modules are resolved against.
func WithSearchRoot(root string) LoadOption {
	return func(cfg *loadConfig) {
		if root != "" {
			cfg.searchRoot = root
		}
	}
}

// WithoutFiles restricts resolution to in-process modules.
func WithoutFiles() LoadOption {
	return func(cfg *loadConfig) {
		cfg.skipFiles = true
	}
}

// Load resolves the settings module identified by module.
func Load(ctx context.Context, module string, opts ...LoadOption) (*Settings, error) {
	if ctx == nil {
		return nil, ewrap.New("settings load context is nil")
	}

	cfg := loadConfig{searchRoot: "."}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	module = strings.TrimSpace(module)
	if module == "" {
		return nil, ErrModuleNotConfigured
	}

	if !moduleNamePattern.MatchString(module) {
		return nil, ewrap.Wrapf(ErrInvalidModuleName, "module %q", module)
	}

	err := ctx.Err()
	if err != nil {
		return nil, ewrap.Wrap(err, "load settings")
	}

	if src, ok := lookupSource(module); ok {
		values, err := src()
		if err != nil {
			return nil, ewrap.Wrapf(err, "settings module %q", module)
		}

		return New(module, values), nil
	}

	if cfg.skipFiles {
		return nil, ewrap.Wrapf(ErrModuleNotFound, "module %q", module)
	}

	return loadFile(module, cfg.searchRoot)
}

func loadFile(module, root string) (*Settings, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ewrap.Wrap(err, "resolve settings root")
	}

	path, ok := findModuleFile(absRoot, module)
	if !ok {
		return nil, ewrap.Wrapf(ErrModuleNotFound, "module %q under %s", module, absRoot)
	}

	reader, err := sectools.NewWithOptions(
		sectools.WithAllowAbsolute(true),
		sectools.WithAllowedRoots(absRoot),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "init settings reader")
	}

	raw, err := reader.ReadFile(path)
	if err != nil {
		return nil, ewrap.Wrapf(err, "read settings module %q", module)
	}

	values, err := decodeModule(path, raw)
	if err != nil {
		return nil, ewrap.Wrapf(err, "parse settings module %q", module)
	}

	return New(module, values), nil
}

func findModuleFile(root, module string) (string, bool) {
	base := filepath.Join(append([]string{root}, strings.Split(module, ".")...)...)

	for _, ext := range fileExtensions {
		path := base + ext

		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return path, true
			}

			continue
		}

		if info.Mode().IsRegular() {
			return path, true
		}
	}

	return "", false
}

func decodeModule(path string, raw []byte) (map[string]any, error) {
	values := map[string]any{}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return values, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err := json.Unmarshal(raw, &values)
		if err != nil {
			return nil, ewrap.Wrap(err, "decode json")
		}

		return values, nil
	}

	err := yaml.Unmarshal(raw, &values)
	if err != nil {
		return nil, ewrap.Wrap(err, "decode yaml")
	}

	return values, nil
}
