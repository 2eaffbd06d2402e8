package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyp3rd/ewrap"
)

const testEnvKey = "TASKAPP_TEST_SETTINGS_MODULE"

func registerForTest(t *testing.T, name string, src Source) {
	t.Helper()

	Register(name, src)
	t.Cleanup(func() {
		sourcesMu.Lock()
		delete(sources, name)
		sourcesMu.Unlock()
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestSettings_Namespace(t *testing.T) {
	t.Parallel()

	s := New("test.settings", map[string]any{
		"TASKAPP_BROKER_URL":     "redis://localhost:6379/0",
		"taskapp_result_expires": 60,
		"TASKAPP":                "bare prefix is not an option",
		"TASKAPP_":               "empty remainder is not an option",
		"TASKAPPX_OTHER":         "different prefix",
		"DEBUG":                  true,
	})

	got := s.Namespace("TASKAPP")
	want := map[string]any{
		"broker_url":     "redis://localhost:6379/0",
		"result_expires": 60,
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if len(s.Namespace("taskapp")) != len(want) {
		t.Fatalf("expected the prefix to be case insensitive")
	}

	all := s.Namespace("")
	if _, ok := all["debug"]; !ok {
		t.Fatalf("expected empty prefix to select every key, got %v", all)
	}
}

func TestSettings_CaseCollisions(t *testing.T) {
	t.Parallel()

	for range 20 {
		s := New("test.settings", map[string]any{
			"taskapp_x":  "lower",
			"TASKAPP_X":  "upper",
			"Taskapp_X":  "mixed",
			"taskapp_y":  "lower",
			" TASKAPP_Y": "padded",
			"Taskapp_Y":  "mixed",
		})

		if got, _ := s.Get("TASKAPP_X"); got != "upper" {
			t.Fatalf("expected the upper-case key to win, got %v", got)
		}

		// " TASKAPP_Y" < "Taskapp_Y" < "taskapp_y"
		if got, _ := s.Get("TASKAPP_Y"); got != "padded" {
			t.Fatalf("expected the first sorted key to win, got %v", got)
		}
	}
}

func TestSettings_Accessors(t *testing.T) {
	t.Parallel()

	s := New("test.settings", map[string]any{
		"INSTALLED_APPS": []any{"notifications", "reports"},
		"SINGLE":         "one",
		"NUMBER":         42,
	})

	if got := s.InstalledApps(); !reflect.DeepEqual(got, []string{"notifications", "reports"}) {
		t.Fatalf("unexpected installed apps %v", got)
	}

	if got := s.StringSlice("single"); !reflect.DeepEqual(got, []string{"one"}) {
		t.Fatalf("unexpected slice %v", got)
	}

	if got := s.String("NUMBER"); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}

	if got := s.String("MISSING"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"INSTALLED_APPS", "NUMBER", "SINGLE"}) {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestSetDefaultModule(t *testing.T) {
	t.Setenv(testEnvKey, "")

	err := os.Unsetenv(testEnvKey)
	if err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	applied, err := SetDefaultModule(testEnvKey, "core.settings")
	if err != nil {
		t.Fatalf("SetDefaultModule: %v", err)
	}

	if !applied || os.Getenv(testEnvKey) != "core.settings" {
		t.Fatalf("expected default to be applied, got %q", os.Getenv(testEnvKey))
	}

	applied, err = SetDefaultModule(testEnvKey, "other.settings")
	if err != nil {
		t.Fatalf("SetDefaultModule: %v", err)
	}

	if applied || os.Getenv(testEnvKey) != "core.settings" {
		t.Fatalf("expected existing value to win, got %q", os.Getenv(testEnvKey))
	}
}

func TestSetDefaultModule_KeepsExistingValue(t *testing.T) {
	t.Setenv(testEnvKey, "prod.settings")

	applied, err := SetDefaultModule(testEnvKey, "core.settings")
	if err != nil {
		t.Fatalf("SetDefaultModule: %v", err)
	}

	if applied {
		t.Fatal("expected default not to be applied")
	}

	if got := os.Getenv(testEnvKey); got != "prod.settings" {
		t.Fatalf("expected prod.settings, got %q", got)
	}
}

func TestLoad_RegisteredModule(t *testing.T) {
	t.Parallel()

	registerForTest(t, "loadtest.registered", func() (map[string]any, error) {
		return map[string]any{"taskapp_broker_url": "memory://"}, nil
	})

	s, err := Load(context.Background(), "loadtest.registered")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Module() != "loadtest.registered" {
		t.Fatalf("unexpected module %q", s.Module())
	}

	if got := s.String("TASKAPP_BROKER_URL"); got != "memory://" {
		t.Fatalf("expected key normalization, got %q", got)
	}
}

func TestLoad_RegisteredModuleError(t *testing.T) {
	t.Parallel()

	boom := ewrap.New("boom")

	registerForTest(t, "loadtest.failing", func() (map[string]any, error) {
		return nil, boom
	})

	_, err := Load(context.Background(), "loadtest.failing")
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestLoad_Files(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "site", "settings.yaml"), `
INSTALLED_APPS:
  - notifications
TASKAPP_BROKER_URL: memory://
TASKAPP_BEAT_SCHEDULE:
  cleanup:
    task: reports.cleanup
    schedule: "@every 1m"
`)
	writeFile(t, filepath.Join(root, "site", "json_settings.json"), `{"TASKAPP_TASK_MAX_RETRIES": 5}`)

	s, err := Load(context.Background(), "site.settings", WithSearchRoot(root))
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}

	if got := s.InstalledApps(); !reflect.DeepEqual(got, []string{"notifications"}) {
		t.Fatalf("unexpected installed apps %v", got)
	}

	schedule, ok := s.Namespace("TASKAPP")["beat_schedule"].(map[string]any)
	if !ok || schedule["cleanup"] == nil {
		t.Fatalf("expected nested beat schedule, got %v", s.Namespace("TASKAPP"))
	}

	s, err = Load(context.Background(), "site.json_settings", WithSearchRoot(root))
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}

	if got := s.String("TASKAPP_TASK_MAX_RETRIES"); got != "5" {
		t.Fatalf("expected 5, got %q", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "broken", "settings.yaml"), "KEY: [unterminated")

	cases := []struct {
		name   string
		module string
		opts   []LoadOption
		target error
	}{
		{name: "empty", module: "", target: ErrModuleNotConfigured},
		{name: "traversal", module: "../etc/passwd", target: ErrInvalidModuleName},
		{name: "missing", module: "missing.settings", opts: []LoadOption{WithSearchRoot(root)}, target: ErrModuleNotFound},
		{name: "files disabled", module: "broken.settings", opts: []LoadOption{WithSearchRoot(root), WithoutFiles()}, target: ErrModuleNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(context.Background(), tc.module, tc.opts...)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}

	_, err := Load(context.Background(), "broken.settings", WithSearchRoot(root))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRegister_Panics(t *testing.T) {
	t.Parallel()

	registerForTest(t, "loadtest.dup", func() (map[string]any, error) { return nil, nil })

	cases := map[string]func(){
		"empty name": func() { Register(" ", func() (map[string]any, error) { return nil, nil }) },
		"nil source": func() { Register("loadtest.nil", nil) },
		"duplicate":  func() { Register("loadtest.dup", func() (map[string]any, error) { return nil, nil }) },
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()

			fn()
		})
	}
}

func TestLazy_Resolve(t *testing.T) {
	calls := 0

	registerForTest(t, "lazytest.settings", func() (map[string]any, error) {
		calls++

		return map[string]any{"TASKAPP_TIMEZONE": "UTC"}, nil
	})

	lazy := NewLazy(testEnvKey, WithoutFiles())

	t.Setenv(testEnvKey, "missing.settings")

	_, err := lazy.Resolve(context.Background())
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}

	if lazy.Configured() {
		t.Fatal("failed resolution must not be cached")
	}

	t.Setenv(testEnvKey, "lazytest.settings")

	first, err := lazy.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	second, err := lazy.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if first != second || calls != 1 {
		t.Fatalf("expected cached settings, calls=%d", calls)
	}

	lazy.Reset()

	if lazy.Configured() {
		t.Fatal("expected Reset to drop the cache")
	}
}

func TestLazy_Unset(t *testing.T) {
	t.Setenv(testEnvKey, "")

	err := os.Unsetenv(testEnvKey)
	if err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	_, err = NewLazy(testEnvKey).Resolve(context.Background())
	if !errors.Is(err, ErrModuleNotConfigured) {
		t.Fatalf("expected ErrModuleNotConfigured, got %v", err)
	}
}

func TestEnviron_ParsesValues(t *testing.T) {
	t.Setenv("TASKAPPENVTEST_CONCURRENCY", "4")
	t.Setenv("TASKAPPENVTEST_EAGER", "true")
	t.Setenv("TASKAPPENVTEST_QUEUES", "[high, low]")
	t.Setenv("TASKAPPENVTEST_URL", "redis://localhost:6379/0")
	t.Setenv("OTHERENVTEST_IGNORED", "1")

	values := Environ("TASKAPPENVTEST_")

	if len(values) != 4 {
		t.Fatalf("expected 4 values, got %d: %v", len(values), values)
	}

	if values["TASKAPPENVTEST_CONCURRENCY"] != 4 {
		t.Fatalf("expected int 4, got %#v", values["TASKAPPENVTEST_CONCURRENCY"])
	}

	if values["TASKAPPENVTEST_EAGER"] != true {
		t.Fatalf("expected bool true, got %#v", values["TASKAPPENVTEST_EAGER"])
	}

	queues, ok := values["TASKAPPENVTEST_QUEUES"].([]any)
	if !ok || len(queues) != 2 || queues[0] != "high" {
		t.Fatalf("expected list [high low], got %#v", values["TASKAPPENVTEST_QUEUES"])
	}

	if values["TASKAPPENVTEST_URL"] != "redis://localhost:6379/0" {
		t.Fatalf("expected url string, got %#v", values["TASKAPPENVTEST_URL"])
	}
}
