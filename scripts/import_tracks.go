package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"trackresync/internal/database"
	"trackresync/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type trackEntry struct {
	ID        int64   `yaml:"id"`
	TrackerID int64   `yaml:"tracker_id"`
	MediaID   int64   `yaml:"media_id"`
	RemoteID  int64   `yaml:"remote_id"`
	Title     string  `yaml:"title"`
	Score     float64 `yaml:"score"`
	Status    string  `yaml:"status"`
	Progress  float64 `yaml:"progress"`
	Total     int64   `yaml:"total"`
}

type tracksFile struct {
	Manga []trackEntry `yaml:"manga"`
	Anime []trackEntry `yaml:"anime"`
}

type importStats struct {
	imported int
	marked   int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		tracksPath = flag.String("tracks", "configs/tracks.yaml", "path to tracks.yaml")
		dbPath     = flag.String("db", "./data/trackresync.db", "path to sqlite db")
		mark       = flag.Bool("mark", false, "queue every imported track for resync")
	)
	flag.Parse()

	data, err := os.ReadFile(*tracksPath)
	if err != nil {
		return fmt.Errorf("read tracks: %w", err)
	}
	var file tracksFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse tracks: %w", err)
	}
	if len(file.Manga)+len(file.Anime) == 0 {
		return errors.New("no tracks in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := importTracks(ctx, db, file, *mark)
	if err != nil {
		return err
	}

	fmt.Printf("done: imported=%d marked=%d\n", stats.imported, stats.marked)
	return nil
}

func importTracks(ctx context.Context, db *database.DB, file tracksFile, mark bool) (importStats, error) {
	var stats importStats
	markers := db.PendingMarkers()

	save := func(kind models.RecordKind, rec models.TrackRecord, entry trackEntry, persist func() error) error {
		base := rec.Base()
		base.ID = entry.ID
		base.TrackerID = entry.TrackerID
		base.MediaID = entry.MediaID
		base.RemoteID = entry.RemoteID
		base.Title = entry.Title
		base.Score = entry.Score
		base.Status = parseStatus(entry.Status)
		rec.SetProgress(entry.Progress, entry.Total)

		if err := persist(); err != nil {
			return fmt.Errorf("import %s %q: %w", kind, entry.Title, err)
		}
		stats.imported++

		if mark {
			if err := markers.Add(ctx, base.ID, kind); err != nil {
				return fmt.Errorf("mark %s %d: %w", kind, base.ID, err)
			}
			stats.marked++
		}
		return nil
	}

	for _, entry := range file.Manga {
		rec := &models.MangaTrack{}
		if err := save(models.KindManga, rec, entry, func() error { return db.MangaTracks().Persist(ctx, rec) }); err != nil {
			return stats, err
		}
	}
	for _, entry := range file.Anime {
		rec := &models.AnimeTrack{}
		if err := save(models.KindAnime, rec, entry, func() error { return db.AnimeTracks().Persist(ctx, rec) }); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func parseStatus(raw string) models.TrackStatus {
	for s := models.StatusUnknown; s <= models.StatusRepeating; s++ {
		if s.String() == raw {
			return s
		}
	}
	return models.StatusUnknown
}
