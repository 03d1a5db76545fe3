package recommend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/metrics"
)

// InteractionLog appends click events. *store.Store implements it.
type InteractionLog interface {
	AppendInteraction(ctx context.Context, event core.InteractionEvent) (core.InteractionEvent, error)
}

// Click is a click submitted by a client.
type Click struct {
	UserID string
	Title  string
	Date   string
	Domain string
}

// ClickRecorder appends clicks to the user's interaction history.
// Repeated clicks on the same article are all kept.
type ClickRecorder struct {
	log InteractionLog
	now func() time.Time
}

// NewClickRecorder creates a ClickRecorder. now defaults to time.Now.
func NewClickRecorder(log InteractionLog, now func() time.Time) *ClickRecorder {
	if now == nil {
		now = time.Now
	}
	return &ClickRecorder{log: log, now: now}
}

// RecordClick validates that every field is present and appends the event.
// Dates that cannot be parsed are recorded at the current time.
func (r *ClickRecorder) RecordClick(ctx context.Context, click Click) (core.InteractionEvent, error) {
	const op = "recommend.RecordClick"

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"user_id", click.UserID},
		{"title", click.Title},
		{"date", click.Date},
		{"domain", click.Domain},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return core.InteractionEvent{}, core.E(core.KindInvalidRequest, op,
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	ts, ok := core.ParseTimestamp(click.Date, core.ClickDateLayouts)
	if !ok {
		ts = r.now().UTC()
		logger.Debug("Unparseable click date, using recording time", "user_id", click.UserID, "date", click.Date)
	}

	event, err := r.log.AppendInteraction(ctx, core.InteractionEvent{
		UserID:    click.UserID,
		Title:     click.Title,
		Date:      click.Date,
		Timestamp: ts,
		Domain:    click.Domain,
	})
	if err != nil {
		return core.InteractionEvent{}, err
	}

	metrics.ClicksTotal.Inc()
	logger.Debug("Recorded click", "user_id", click.UserID, "title", click.Title, "domain", click.Domain)
	return event, nil
}
