package models

import (
	"fmt"
	"strings"
	"time"
)

// RecordKind partitions pending markers and records.
type RecordKind string

const (
	KindManga RecordKind = "manga"
	KindAnime RecordKind = "anime"
)

// RecordKinds lists every kind in processing order.
var RecordKinds = []RecordKind{KindManga, KindAnime}

func (k RecordKind) Valid() bool {
	return k == KindManga || k == KindAnime
}

func (k RecordKind) String() string {
	return string(k)
}

// ParseRecordKind accepts a kind name case-insensitively.
func ParseRecordKind(raw string) (RecordKind, error) {
	kind := RecordKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown record kind %q", raw)
	}
	return kind, nil
}

// PendingMarker records that a local track update still has to be pushed to its tracker.
// Identity is ItemID + Kind.
type PendingMarker struct {
	ItemID    int64      `json:"item_id"`
	Kind      RecordKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
}

// Key is the identity of the marker as a string, used by key-value backends.
func (m PendingMarker) Key() string {
	return fmt.Sprintf("%s:%d", m.Kind, m.ItemID)
}
