package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	taskapp "github.com/hyp3rd/go-taskapp"
)

func newTestApp(t *testing.T, name string) *taskapp.App {
	t.Helper()

	app, err := taskapp.New(name)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	t.Cleanup(func() { _ = app.Close() })

	err = app.AutodiscoverTasks(context.Background(), "notifications")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	return app
}

func TestRegister_DeclaresTasks(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "notifications-register")

	task, ok := app.Task(SendEmailTask)
	if !ok {
		t.Fatalf("expected %s to be registered", SendEmailTask)
	}

	spec := task.Spec()
	if spec.RateLimit != sendEmailRateLimit || spec.MaxRetries == nil || *spec.MaxRetries != sendEmailMaxRetries {
		t.Fatalf("unexpected send_email spec: %+v", spec)
	}

	if _, ok := app.Task(PurgeOutboxTask); !ok {
		t.Fatalf("expected %s to be registered", PurgeOutboxTask)
	}
}

func TestSendEmail_RecordsEmail(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "notifications-send")
	task, _ := app.Task(SendEmailTask)

	out, err := task.Call(context.Background(), nil, map[string]any{
		"to":      "ops@example.com",
		"subject": "disk usage",
	})
	if err != nil {
		t.Fatalf("send email: %v", err)
	}

	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result %T", out)
	}

	found := false

	for _, email := range DefaultOutbox().Emails() {
		if email.ID == result["id"] {
			found = email.To == "ops@example.com" && email.Subject == "disk usage"
		}
	}

	if !found {
		t.Fatalf("expected e-mail %v in outbox", result["id"])
	}
}

func TestSendEmail_RejectsMissingRecipient(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "notifications-invalid")
	task, _ := app.Task(SendEmailTask)

	_, err := task.Call(context.Background(), nil, map[string]any{"subject": "hi"})
	if !errors.Is(err, errMissingRecipient) {
		t.Fatalf("expected errMissingRecipient, got %v", err)
	}

	var retryErr *taskapp.RetryError
	if errors.As(err, &retryErr) {
		t.Fatal("invalid input must not ask for a retry")
	}
}

func TestOutbox_Purge(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	outbox := &Outbox{}
	outbox.Add(Email{ID: "old", QueuedAt: now.Add(-2 * time.Hour)})
	outbox.Add(Email{ID: "new", QueuedAt: now})

	removed := outbox.Purge(now.Add(-time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	emails := outbox.Emails()
	if len(emails) != 1 || emails[0].ID != "new" {
		t.Fatalf("unexpected outbox content: %+v", emails)
	}
}

func TestPurgeOutbox_RejectsBadRetention(t *testing.T) {
	t.Parallel()

	_, err := purgeOutbox(context.Background(), nil, map[string]any{"older_than_seconds": "soon"})
	if err == nil {
		t.Fatal("expected error for non-numeric retention")
	}

	_, err = purgeOutbox(context.Background(), nil, map[string]any{"older_than_seconds": -1.0})
	if err == nil {
		t.Fatal("expected error for negative retention")
	}
}
