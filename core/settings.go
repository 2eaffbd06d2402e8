package core

import (
	"maps"

	"github.com/hyp3rd/go-taskapp/settings"

	// installed applications
	_ "github.com/hyp3rd/go-taskapp/apps/notifications"
	_ "github.com/hyp3rd/go-taskapp/apps/reports"
)

func init() {
	settings.Register(DefaultSettingsModule, projectSettings)
}

// projectSettings is the core.settings module. TASKAPP_* environment
// variables override the defaults below.
func projectSettings() (map[string]any, error) {
	values := map[string]any{
		"DEBUG":     false,
		"TIME_ZONE": "UTC",
		settings.InstalledAppsKey: []string{
			"notifications",
			"reports",
		},

		"TASKAPP_BROKER_URL":         "memory://",
		"TASKAPP_RESULT_BACKEND":     "memory://",
		"TASKAPP_RESULT_EXPIRES":     3600,
		"TASKAPP_TASK_DEFAULT_QUEUE": "default",
		"TASKAPP_TASK_TIME_LIMIT":    300,
		"TASKAPP_TIMEZONE":           "UTC",
		"TASKAPP_TASK_ROUTES": map[string]any{
			"reports.generate": map[string]any{"queue": "reports"},
		},
		"TASKAPP_BEAT_SCHEDULE": map[string]any{
			"purge-outbox": map[string]any{
				"task":     "notifications.purge_outbox",
				"schedule": "*/15 * * * *",
			},
			"daily-summary": map[string]any{
				"task":     "reports.daily_summary",
				"schedule": "0 6 * * *",
			},
		},
	}

	maps.Copy(values, settings.Environ(Namespace+"_"))

	return values, nil
}
