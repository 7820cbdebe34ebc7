package reconcile

import (
	"time"

	"trackresync/internal/models"
)

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeStale
	outcomeDropped
	outcomeRetained
)

var outcomeNames = map[outcome]string{
	outcomeSynced:   "synced",
	outcomeStale:    "stale",
	outcomeDropped:  "dropped",
	outcomeRetained: "retained",
}

func (o outcome) String() string { return outcomeNames[o] }

// KindReport counts what happened to the markers of one record kind during a run.
type KindReport struct {
	Listed   int    `json:"listed"`
	Synced   int    `json:"synced"`
	Stale    int    `json:"stale"`
	Dropped  int    `json:"dropped"`
	Retained int    `json:"retained"`
	Error    string `json:"error,omitempty"`
}

func (k *KindReport) add(o outcome) {
	switch o {
	case outcomeSynced:
		k.Synced++
	case outcomeStale:
		k.Stale++
	case outcomeDropped:
		k.Dropped++
	case outcomeRetained:
		k.Retained++
	}
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID    string                            `json:"run_id"`
	Started  time.Time                         `json:"started"`
	Finished time.Time                         `json:"finished"`
	Kinds    map[models.RecordKind]KindReport `json:"kinds"`
}

func (r Report) Synced() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Synced
	}
	return n
}

// Retained is the number of markers left in place for the next run.
func (r Report) Retained() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Retained
	}
	return n
}

func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
