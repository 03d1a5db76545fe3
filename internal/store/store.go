package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"newsrec/internal/core"
)

// NoPreferences is returned for users that have no preference record yet.
const NoPreferences = "None"

var errEmptyUserID = errors.New("user id is required")

// Store keeps per-user preference text and the append-only click history in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "newsrec.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	// One preference blob per user, overwritten on each adjustment
	preferencesTable := `
	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id TEXT PRIMARY KEY,
		preference_text TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	// Click history, append-only
	interactionsTable := `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		date TEXT NOT NULL,
		ts DATETIME NOT NULL,
		domain TEXT NOT NULL
	);`

	interactionsIndex := `
	CREATE INDEX IF NOT EXISTS idx_interactions_user_ts ON interactions (user_id, ts);`

	for _, stmt := range []string{preferencesTable, interactionsTable, interactionsIndex} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.E(core.KindStoreUnavailable, "store.Ping", err)
	}
	return nil
}

// EnsureUserInitialized creates an empty preference record if none exists.
// Calling it repeatedly is a no-op.
func (s *Store) EnsureUserInitialized(ctx context.Context, userID string) error {
	const op = "store.EnsureUserInitialized"
	if userID == "" {
		return core.E(core.KindInvalidRequest, op, errEmptyUserID)
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO user_preferences (user_id, preference_text, created_at, updated_at)
	VALUES (?, '', ?, ?)
	ON CONFLICT(user_id) DO NOTHING`, userID, now, now)
	if err != nil {
		return core.E(core.KindStoreUnavailable, op, err)
	}
	return nil
}

// UserExists reports whether the user has a preference record.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_preferences WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, core.E(core.KindStoreUnavailable, "store.UserExists", err)
	}
	return n > 0, nil
}

// GetPreferenceText returns the stored preference text, or NoPreferences when
// the user has no record yet.
func (s *Store) GetPreferenceText(ctx context.Context, userID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT preference_text FROM user_preferences WHERE user_id = ?`, userID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return NoPreferences, nil
	}
	if err != nil {
		return "", core.E(core.KindStoreUnavailable, "store.GetPreferenceText", err)
	}
	return text, nil
}

// SetPreferenceText replaces the user's preference text, creating the record if needed.
func (s *Store) SetPreferenceText(ctx context.Context, userID, text string) error {
	const op = "store.SetPreferenceText"
	if userID == "" {
		return core.E(core.KindInvalidRequest, op, errEmptyUserID)
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO user_preferences (user_id, preference_text, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		preference_text = excluded.preference_text,
		updated_at = excluded.updated_at`, userID, text, now, now)
	if err != nil {
		return core.E(core.KindStoreUnavailable, op, err)
	}
	return nil
}

// AppendInteraction records one click. Events are never updated or deleted.
func (s *Store) AppendInteraction(ctx context.Context, event core.InteractionEvent) (core.InteractionEvent, error) {
	const op = "store.AppendInteraction"
	if event.UserID == "" {
		return event, core.E(core.KindInvalidRequest, op, errEmptyUserID)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	event.Timestamp = event.Timestamp.UTC()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO interactions (id, user_id, title, date, ts, domain)
	VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Title, event.Date, event.Timestamp, event.Domain)
	if err != nil {
		return event, core.E(core.KindStoreUnavailable, op, err)
	}
	return event, nil
}

// GetRecentInteractions returns the user's clicks from the last windowDays days,
// oldest first. Users without history get an empty slice.
func (s *Store) GetRecentInteractions(ctx context.Context, userID string, windowDays int) ([]core.InteractionEvent, error) {
	const op = "store.GetRecentInteractions"

	cutoff := s.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, user_id, title, date, ts, domain
	FROM interactions
	WHERE user_id = ? AND ts >= ?
	ORDER BY ts ASC, rowid ASC`, userID, cutoff)
	if err != nil {
		return nil, core.E(core.KindStoreUnavailable, op, err)
	}
	defer rows.Close()

	events := []core.InteractionEvent{}
	for rows.Next() {
		var e core.InteractionEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Date, &e.Timestamp, &e.Domain); err != nil {
			return nil, core.E(core.KindStoreUnavailable, op, fmt.Errorf("failed to scan interaction: %w", err))
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.E(core.KindStoreUnavailable, op, err)
	}
	return events, nil
}

// CountInteractions returns the total number of clicks recorded for the user.
func (s *Store) CountInteractions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, core.E(core.KindStoreUnavailable, "store.CountInteractions", err)
	}
	return n, nil
}
