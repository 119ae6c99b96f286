package orchestrators

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	emailAdapter "pandaconnect/internal/adapters/email"
	"pandaconnect/internal/domain/event"
)

// DigestEventStore defines the store interface needed by the daily digest.
type DigestEventStore interface {
	FindOnDate(ctx context.Context, date string) ([]event.Event, error)
}

// DailyDigestDeps holds dependencies for the daily digest.
type DailyDigestDeps struct {
	EventStore DigestEventStore
	Sender     emailAdapter.Sender
	To         []string
	ReplyTo    string
	Now        func() time.Time
	Location   *time.Location
}

var digestTemplate = template.Must(template.New("digest").Parse(
	`<h2>Today at school: {{.Date}}</h2>
<ul>
{{range .Items}}<li><strong>{{.Time}}</strong> {{.Title}}<br>{{.Description}}</li>
{{end}}</ul>
`))

type digestItem struct {
	Title       string
	Time        string
	Description string
}

// ExecuteSendDailyDigest emails today's events to the parent list.
// PRE: deps.Sender is set
// POST: each recipient gets their own message; nothing is sent on a day with no events or no recipients
func ExecuteSendDailyDigest(ctx context.Context, deps DailyDigestDeps) (int, error) {
	if len(deps.To) == 0 {
		return 0, nil
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	today := event.ToCanonicalDate(now().In(loc))

	events, err := deps.EventStore.FindOnDate(ctx, today)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		slog.Info("digest_skipped", "date", today, "reason", "no_events")
		return 0, nil
	}

	items := make([]digestItem, 0, len(events))
	for _, e := range events {
		clock, err := event.ToDisplayTime(e.Time)
		if err != nil {
			return 0, fmt.Errorf("event %s: %w", e.ID, err)
		}
		items = append(items, digestItem{Title: e.Title, Time: clock, Description: e.Description})
	}
	display, err := event.ToDisplayDate(today)
	if err != nil {
		return 0, err
	}

	var body bytes.Buffer
	if err := digestTemplate.Execute(&body, struct {
		Date  string
		Items []digestItem
	}{display, items}); err != nil {
		return 0, err
	}

	reqs := emailAdapter.PerRecipient(emailAdapter.SendRequest{
		Subject: "Today's school events: " + display,
		HTML:    body.String(),
		ReplyTo: deps.ReplyTo,
	}, deps.To)
	if _, err := deps.Sender.SendBatch(ctx, reqs); err != nil {
		return 0, err
	}
	slog.Info("digest_sent", "date", today, "events", len(items), "recipients", len(reqs))
	return len(items), nil
}

// StartDigestScheduler runs the daily digest on the given cron spec.
// PRE: spec is a standard 5-field cron expression
// POST: returns the running scheduler; caller stops it on shutdown
func StartDigestScheduler(spec string, deps DailyDigestDeps) (*cron.Cron, error) {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := ExecuteSendDailyDigest(ctx, deps); err != nil {
			slog.Error("digest_failed", "error", err.Error())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	c.Start()
	slog.Info("digest_scheduler_started", "spec", spec)
	return c, nil
}
