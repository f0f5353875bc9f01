package app

import (
	"context"
	"errors"
	"time"

	"reef-ingest/internal/alerting"
)

// SimulateAlert pushes a synthetic failure notification through the
// configured alert channel to verify routing.
func (a *App) SimulateAlert(ctx context.Context) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	note := alerting.Notification{
		BlockID:    0,
		Op:         "simulate",
		Attempts:   1,
		Cause:      "test alert requested from CLI",
		OccurredAt: time.Now().UTC(),
	}
	return notifier.Notify(ctx, note)
}
