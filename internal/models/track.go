package models

import "time"

// TrackStatus mirrors the reading/watching states common to tracking services.
type TrackStatus int

const (
	StatusUnknown TrackStatus = iota
	StatusCurrent
	StatusCompleted
	StatusPaused
	StatusDropped
	StatusPlanned
	StatusRepeating
)

var trackStatusNames = map[TrackStatus]string{
	StatusUnknown:   "unknown",
	StatusCurrent:   "current",
	StatusCompleted: "completed",
	StatusPaused:    "paused",
	StatusDropped:   "dropped",
	StatusPlanned:   "planned",
	StatusRepeating: "repeating",
}

func (s TrackStatus) String() string {
	if name, ok := trackStatusNames[s]; ok {
		return name
	}
	return trackStatusNames[StatusUnknown]
}

// Track holds the fields shared by manga and anime tracks.
type Track struct {
	ID         int64       `json:"id"`
	TrackerID  int64       `json:"tracker_id"`
	MediaID    int64       `json:"media_id"`
	RemoteID   int64       `json:"remote_id"`
	Title      string      `json:"title"`
	Score      float64     `json:"score"`
	Status     TrackStatus `json:"status"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TrackRecord is implemented by pointers to the concrete track types so that storage and
// reconciliation code can be written once for both kinds.
type TrackRecord interface {
	Base() *Track
	Progress() (last float64, total int64)
	SetProgress(last float64, total int64)
}

// MangaTrack is the local tracking state of one manga on one tracker.
type MangaTrack struct {
	Track
	LastChapterRead float64 `json:"last_chapter_read"`
	TotalChapters   int64   `json:"total_chapters"`
}

func (t *MangaTrack) Base() *Track { return &t.Track }

func (t *MangaTrack) Progress() (float64, int64) {
	return t.LastChapterRead, t.TotalChapters
}

func (t *MangaTrack) SetProgress(last float64, total int64) {
	t.LastChapterRead = last
	t.TotalChapters = total
}

// AnimeTrack is the local tracking state of one anime on one tracker.
type AnimeTrack struct {
	Track
	LastEpisodeSeen float64 `json:"last_episode_seen"`
	TotalEpisodes   int64   `json:"total_episodes"`
}

func (t *AnimeTrack) Base() *Track { return &t.Track }

func (t *AnimeTrack) Progress() (float64, int64) {
	return t.LastEpisodeSeen, t.TotalEpisodes
}

func (t *AnimeTrack) SetProgress(last float64, total int64) {
	t.LastEpisodeSeen = last
	t.TotalEpisodes = total
}
