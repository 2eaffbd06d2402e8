// Package notifications delivers outbound e-mail through the task queue.
package notifications

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"

	taskapp "github.com/hyp3rd/go-taskapp"
)

// Task names.
const (
	SendEmailTask   = "notifications.send_email"
	PurgeOutboxTask = "notifications.purge_outbox"
)

const (
	defaultOutboxRetention = 24 * time.Hour
	sendEmailRateLimit     = "10/s"
	sendEmailMaxRetries    = 5
	sendEmailRetryDelay    = 30 * time.Second
)

var errMissingRecipient = ewrap.New("recipient is required")

func init() {
	taskapp.RegisterTaskModule("notifications.tasks", register)
}

func register(r *taskapp.Registrar) error {
	maxRetries := sendEmailMaxRetries

	_, err := r.Register(taskapp.TypedTask(taskapp.TaskSpec{
		Name:       SendEmailTask,
		RateLimit:  sendEmailRateLimit,
		MaxRetries: &maxRetries,
		RetryDelay: sendEmailRetryDelay,
	}, sendEmail))
	if err != nil {
		return err
	}

	_, err = r.Register(taskapp.TaskSpec{
		Name: PurgeOutboxTask,
		Fn:   purgeOutbox,
	})

	return err
}

// Email is a message accepted for delivery.
type Email struct {
	ID       string
	To       string
	Subject  string
	Body     string
	QueuedAt time.Time
}

// Outbox records accepted e-mails until they are purged.
type Outbox struct {
	mu     sync.Mutex
	emails []Email
}

var defaultOutbox = &Outbox{}

// DefaultOutbox returns the outbox used by the registered tasks.
func DefaultOutbox() *Outbox {
	return defaultOutbox
}

// Add records an e-mail.
func (o *Outbox) Add(email Email) {
	o.mu.Lock()
	o.emails = append(o.emails, email)
	o.mu.Unlock()
}

// Emails returns a copy of the recorded e-mails.
func (o *Outbox) Emails() []Email {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Email, len(o.emails))
	copy(out, o.emails)

	return out
}

// Purge removes e-mails queued before cutoff and returns how many were removed.
func (o *Outbox) Purge(cutoff time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.emails[:0]

	for _, email := range o.emails {
		if email.QueuedAt.Before(cutoff) {
			continue
		}

		kept = append(kept, email)
	}

	removed := len(o.emails) - len(kept)
	o.emails = kept

	return removed
}

// EmailRequest is the payload of the send_email task.
type EmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func sendEmail(ctx context.Context, req EmailRequest) (any, error) {
	err := ctx.Err()
	if err != nil {
		return nil, taskapp.Retry(err, 0)
	}

	to := strings.TrimSpace(req.To)
	if to == "" || !strings.Contains(to, "@") {
		return nil, ewrap.Wrapf(errMissingRecipient, "got %q", to)
	}

	email := Email{
		ID:       uuid.NewString(),
		To:       to,
		Subject:  req.Subject,
		Body:     req.Body,
		QueuedAt: time.Now().UTC(),
	}

	defaultOutbox.Add(email)

	return map[string]any{"id": email.ID, "to": email.To}, nil
}

// purgeOutbox accepts an optional kwarg older_than_seconds.
func purgeOutbox(_ context.Context, _ []any, kwargs map[string]any) (any, error) {
	retention := defaultOutboxRetention

	if raw, ok := kwargs["older_than_seconds"]; ok {
		var seconds float64

		switch typed := raw.(type) {
		case float64:
			seconds = typed
		case int:
			seconds = float64(typed)
		default:
			return nil, ewrap.Newf("older_than_seconds must be a number, got %v", raw)
		}

		if seconds < 0 {
			return nil, ewrap.Newf("older_than_seconds must not be negative, got %v", seconds)
		}

		retention = time.Duration(seconds * float64(time.Second))
	}

	removed := defaultOutbox.Purge(time.Now().UTC().Add(-retention))

	return removed, nil
}
