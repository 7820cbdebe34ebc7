package metrics

import (
	"trackresync/internal/events"
)

// SubscribeEvents feeds run and deferral events from the bus into the collectors.
func SubscribeEvents(bus *events.EventBus) {
	if bus == nil {
		return
	}

	bus.Subscribe(events.EventProgressDeferred, func(e *events.Event) error {
		var p events.ProgressDeferredPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		deferredPushes.WithLabelValues(p.Kind).Inc()
		return nil
	})

	bus.Subscribe(events.EventRunFinished, func(e *events.Event) error {
		var p events.RunFinishedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		lastRunTimestamp.Set(float64(e.CreatedAt.Unix()))
		lastRunItems.WithLabelValues(OutcomeSynced).Set(float64(p.Synced))
		lastRunItems.WithLabelValues(OutcomeRetained).Set(float64(p.Retained))
		return nil
	})
}
