package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"trackresync/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	MangaTracksTable = "manga_tracks"
	AnimeTracksTable = "anime_tracks"

	memoryPath = ":memory:"
)

// DB wraps the sqlite handle that stores tracks and pending markers.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises writers, which makes every statement atomic per key
	// and keeps ":memory:" databases alive across calls.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pending_markers (
            item_id INTEGER NOT NULL,
            kind TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            PRIMARY KEY (item_id, kind)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_pending_markers_kind ON pending_markers(kind)`,
	}
	for _, table := range []string{MangaTracksTable, AnimeTracksTable} {
		queries = append(queries,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tracker_id INTEGER NOT NULL,
            media_id INTEGER NOT NULL,
            remote_id INTEGER NOT NULL DEFAULT 0,
            title TEXT NOT NULL DEFAULT '',
            score REAL NOT NULL DEFAULT 0,
            status INTEGER NOT NULL DEFAULT 0,
            last_progress REAL NOT NULL DEFAULT 0,
            total INTEGER NOT NULL DEFAULT 0,
            started_at DATETIME,
            finished_at DATETIME,
            updated_at DATETIME NOT NULL
        )`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tracker ON %s(tracker_id)`, table, table),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_media_tracker ON %s(media_id, tracker_id)`, table, table),
		)
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// MangaTracks returns the repository for manga tracks.
func (db *DB) MangaTracks() *TrackStore[models.MangaTrack, *models.MangaTrack] {
	return NewTrackStore[models.MangaTrack](db, MangaTracksTable)
}

// AnimeTracks returns the repository for anime tracks.
func (db *DB) AnimeTracks() *TrackStore[models.AnimeTrack, *models.AnimeTrack] {
	return NewTrackStore[models.AnimeTrack](db, AnimeTracksTable)
}
