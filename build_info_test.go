package taskapp

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestBuildInfoFrom(t *testing.T) {
	t.Parallel()

	info := buildInfoFrom(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "GOOS", Value: "linux"},
		},
	})

	if info.Version != "v1.2.0" || info.Commit != "abc123" || info.BuildTime != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Fatalf("unexpected build info %+v", info)
	}

	if got := info.String(); !strings.HasPrefix(got, "v1.2.0 (commit=abc123-dirty, date=2026-01-02T03:04:05Z") {
		t.Fatalf("unexpected version line %q", got)
	}

	devel := buildInfoFrom(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if devel.Version != "dev" {
		t.Fatalf("expected dev version, got %q", devel.Version)
	}

	if missing := buildInfoFrom(nil); missing.Version != "dev" || missing.GoVersion == "" {
		t.Fatalf("unexpected build info without module data %+v", missing)
	}
}

func TestBuildInfo_WithStamp(t *testing.T) {
	t.Parallel()

	info := BuildInfo{Version: "dev", Commit: "abc123", GoVersion: "go1.26.0"}

	stamped := info.WithStamp("v2.0.0", "", "2026-10-16")
	if stamped.Version != "v2.0.0" || stamped.Commit != "abc123" || stamped.BuildTime != "2026-10-16" {
		t.Fatalf("unexpected stamped info %+v", stamped)
	}

	if got := info.String(); !strings.Contains(got, "date=unknown") {
		t.Fatalf("expected an unknown date in %q", got)
	}
}
