package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trackresync/internal/config"
	"trackresync/internal/domain"
	"trackresync/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const resyncHeader = "X-Resync"

// RESTTracker pushes progress to a JSON tracking API.
//
//	PUT {base_url}/api/v1/{kind}/{media_id}/progress
//
// The request is authenticated with OAuth2 (client credentials or a static bearer token)
// and throttled to the configured rate.
type RESTTracker struct {
	id            int64
	name          string
	baseURL       string
	client        *http.Client
	limiter       *rate.Limiter
	authenticated bool
}

type progressPayload struct {
	RemoteID   int64      `json:"remote_id,omitempty"`
	MediaID    int64      `json:"media_id"`
	Title      string     `json:"title,omitempty"`
	Progress   float64    `json:"progress"`
	Total      int64      `json:"total,omitempty"`
	Score      float64    `json:"score"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Resync     bool       `json:"resync"`
}

type progressResponse struct {
	RemoteID int64 `json:"remote_id"`
}

func NewRESTTracker(ctx context.Context, cfg config.TrackerConfig) *RESTTracker {
	t := &RESTTracker{
		id:      cfg.ID,
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: newLimiter(cfg.RPS, cfg.Burst),
	}

	switch {
	case cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		t.client = cc.Client(ctx)
		t.authenticated = true
	case cfg.Token != "":
		t.client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		t.authenticated = true
	default:
		t.client = &http.Client{}
	}
	t.client.Timeout = 30 * time.Second

	return t
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (t *RESTTracker) ID() int64 { return t.id }

func (t *RESTTracker) Name() string { return t.name }

func (t *RESTTracker) IsAuthenticated() bool { return t.authenticated }

func (t *RESTTracker) UpdateManga(ctx context.Context, track *models.MangaTrack, resync bool) error {
	return t.push(ctx, models.KindManga, track, resync)
}

func (t *RESTTracker) UpdateAnime(ctx context.Context, track *models.AnimeTrack, resync bool) error {
	return t.push(ctx, models.KindAnime, track, resync)
}

func (t *RESTTracker) push(ctx context.Context, kind models.RecordKind, record models.TrackRecord, resync bool) error {
	if !t.authenticated {
		return domain.ErrNotAuthenticated
	}
	base := record.Base()
	last, total := record.Progress()

	body, err := json.Marshal(progressPayload{
		RemoteID:   base.RemoteID,
		MediaID:    base.MediaID,
		Title:      base.Title,
		Progress:   last,
		Total:      total,
		Score:      base.Score,
		Status:     base.Status.String(),
		StartedAt:  base.StartedAt,
		FinishedAt: base.FinishedAt,
		Resync:     resync,
	})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", t.name, err)
	}

	url := fmt.Sprintf("%s/api/v1/%s/%d/progress", t.baseURL, kind, base.MediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if resync {
		req.Header.Set(resyncHeader, "true")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", t.name, domain.ErrTrackerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", t.name, domain.ErrNotAuthenticated, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: update %s %d failed: status %d: %s",
			t.name, kind, base.MediaID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.RemoteID != 0 {
		base.RemoteID = out.RemoteID
	}
	return nil
}
