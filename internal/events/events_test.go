package events

import (
	"testing"
	"time"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventProgressDeferred, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventProgressDeferred, ProgressDeferredPayload{ItemID: 7, Kind: "manga", TrackerID: 2})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded ProgressDeferredPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.ItemID != 7 || decoded.Kind != "manga" || decoded.TrackerID != 2 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventNetworkAvailable, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventNetworkAvailable, func(_ *Event) error { count2++; return nil })
	bus.Subscribe(EventRunFinished, func(_ *Event) error { t.Error("wrong subscriber called"); return nil })

	_ = bus.PublishJSON(EventNetworkAvailable, NetworkAvailablePayload{Address: "1.1.1.1:443", At: time.Now()})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestNilEventBus(t *testing.T) {
	var bus *EventBus
	bus.Publish(&Event{Type: EventRunFinished})
	if err := bus.PublishJSON(EventRunFinished, RunFinishedPayload{RunID: "x"}); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}
