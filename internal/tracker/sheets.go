package tracker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"trackresync/internal/config"
	"trackresync/internal/domain"
	"trackresync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	mangaSheet = "Manga"
	animeSheet = "Anime"
)

// SheetsTracker mirrors tracks into a Google spreadsheet, one sheet per kind and one row
// per track keyed by the local track id in column A.
type SheetsTracker struct {
	id            int64
	name          string
	service       *sheets.Service
	spreadsheetID string

	cacheMu  sync.RWMutex
	rowCache map[string]int
}

// NewSheetsTracker authenticates with a service account. On failure the returned tracker
// is usable but reports itself as unauthenticated.
func NewSheetsTracker(ctx context.Context, cfg config.TrackerConfig) (*SheetsTracker, error) {
	t := newSheetsTracker(cfg.ID, cfg.Name, nil, cfg.SpreadsheetID)

	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return t, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return t, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return t, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	t.service = srv
	return t, nil
}

func newSheetsTracker(id int64, name string, srv *sheets.Service, spreadsheetID string) *SheetsTracker {
	return &SheetsTracker{
		id:            id,
		name:          name,
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
	}
}

func (t *SheetsTracker) ID() int64 { return t.id }

func (t *SheetsTracker) Name() string { return t.name }

func (t *SheetsTracker) IsAuthenticated() bool { return t.service != nil }

func (t *SheetsTracker) UpdateManga(ctx context.Context, track *models.MangaTrack, resync bool) error {
	return t.upsert(ctx, mangaSheet, track, resync)
}

func (t *SheetsTracker) UpdateAnime(ctx context.Context, track *models.AnimeTrack, resync bool) error {
	return t.upsert(ctx, animeSheet, track, resync)
}

func (t *SheetsTracker) upsert(ctx context.Context, sheet string, record models.TrackRecord, resync bool) error {
	if t.service == nil {
		return domain.ErrNotAuthenticated
	}
	base := record.Base()
	values := &sheets.ValueRange{Values: [][]interface{}{trackRowValues(record, resync)}}

	row, err := t.findRow(ctx, sheet, base.ID)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", t.name, domain.ErrTrackerUnavailable, err)
	}

	if row == -1 {
		resp, err := t.service.Spreadsheets.Values.Append(t.spreadsheetID, sheet+"!A:J", values).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("%s: append %s row %d: %w", t.name, sheet, base.ID, err)
		}
		if resp.Updates != nil {
			if r, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
				t.setCachedRow(sheet, base.ID, r)
			}
		}
		return nil
	}

	rangeData := fmt.Sprintf("%s!A%d:J%d", sheet, row, row)
	if _, err := t.service.Spreadsheets.Values.Update(t.spreadsheetID, rangeData, values).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("%s: update %s row %d: %w", t.name, sheet, base.ID, err)
	}
	return nil
}

// findRow returns the 1-based row holding the track id, or -1 when it has none yet.
func (t *SheetsTracker) findRow(ctx context.Context, sheet string, id int64) (int, error) {
	if row, ok := t.getCachedRow(sheet, id); ok {
		return row, nil
	}

	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	want := strconv.FormatInt(id, 10)
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if fmt.Sprint(row[0]) == want {
			t.setCachedRow(sheet, id, i+1)
			return i + 1, nil
		}
	}
	return -1, nil
}

func (t *SheetsTracker) getCachedRow(sheet string, id int64) (int, bool) {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	row, ok := t.rowCache[cacheKey(sheet, id)]
	return row, ok
}

func (t *SheetsTracker) setCachedRow(sheet string, id int64, row int) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	t.rowCache[cacheKey(sheet, id)] = row
}

func cacheKey(sheet string, id int64) string {
	return sheet + ":" + strconv.FormatInt(id, 10)
}

func trackRowValues(record models.TrackRecord, resync bool) []interface{} {
	base := record.Base()
	last, total := record.Progress()
	return []interface{}{
		base.ID,
		base.MediaID,
		base.Title,
		last,
		total,
		base.Score,
		base.Status.String(),
		formatTime(base.StartedAt),
		formatTime(base.FinishedAt),
		strconv.FormatBool(resync),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// rowFromRange extracts the first row number from an A1 range such as "Manga!A7:J7".
func rowFromRange(a1 string) (int, bool) {
	start := -1
	for i := 0; i < len(a1); i++ {
		c := a1[i]
		if c >= '0' && c <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0, false
	}
	end := start
	for end < len(a1) && a1[end] >= '0' && a1[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(a1[start:end])
	return n, err == nil
}
