package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/roamr/internal/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the feature catalog, preference
// vectors, swipe history, and saved sets.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "roamr.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const vectorColumns = "beach, city, adventure, culture, nightlife, nature, food"

func vectorArgs(v profile.Vector) []any {
	args := make([]any, len(v))
	for i, x := range v {
		args[i] = x
	}
	return args
}

func vectorDest(v *profile.Vector) []any {
	dest := make([]any, len(v))
	for i := range v {
		dest[i] = &v[i]
	}
	return dest
}

// swipeTimeFormat is fixed-width so created_at sorts correctly as text.
const swipeTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- Feature catalog ---

// UpsertDestination writes a catalog entry. Only curation tooling calls this;
// the learning path treats feature vectors as read-only.
func (s *Store) UpsertDestination(ctx context.Context, d Destination) error {
	args := []any{d.ID, d.Name}
	args = append(args, vectorArgs(d.Features)...)
	args = append(args, now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destination_features (destination_id, name, `+vectorColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(destination_id) DO UPDATE SET
			name = excluded.name,
			beach = excluded.beach, city = excluded.city, adventure = excluded.adventure,
			culture = excluded.culture, nightlife = excluded.nightlife, nature = excluded.nature,
			food = excluded.food, updated_at = excluded.updated_at`,
		args...,
	)
	return err
}

// GetFeatureVector returns the destination's feature vector; ok is false when
// the destination is not in the catalog.
func (s *Store) GetFeatureVector(ctx context.Context, destinationID string) (profile.Vector, bool, error) {
	var v profile.Vector
	err := s.db.QueryRowContext(ctx,
		"SELECT "+vectorColumns+" FROM destination_features WHERE destination_id = ?", destinationID,
	).Scan(vectorDest(&v)...)
	if err == sql.ErrNoRows {
		return profile.Vector{}, false, nil
	}
	if err != nil {
		return profile.Vector{}, false, err
	}
	return v, true, nil
}

// CountDestinations returns the catalog size.
func (s *Store) CountDestinations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM destination_features").Scan(&n)
	return n, err
}

// --- Preference vectors ---

// EnsurePreferenceVector creates the user's row at the default 0.5 per
// dimension if it does not exist yet. Existing rows are left untouched.
func (s *Store) EnsurePreferenceVector(ctx context.Context, userID string) error {
	args := []any{userID}
	args = append(args, vectorArgs(profile.DefaultPreferences())...)
	args = append(args, now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, `+vectorColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		args...,
	)
	return err
}

// GetPreferenceVector returns the user's preference vector; ok is false when
// the user has no row.
func (s *Store) GetPreferenceVector(ctx context.Context, userID string) (profile.Vector, bool, error) {
	var v profile.Vector
	err := s.db.QueryRowContext(ctx,
		"SELECT "+vectorColumns+" FROM user_preferences WHERE user_id = ?", userID,
	).Scan(vectorDest(&v)...)
	if err == sql.ErrNoRows {
		return profile.Vector{}, false, nil
	}
	if err != nil {
		return profile.Vector{}, false, err
	}
	return v, true, nil
}

// UpdatePreferenceVector overwrites all seven dimensions in one statement.
// Values are clamped to [0,1] and rounded to three decimals first.
func (s *Store) UpdatePreferenceVector(ctx context.Context, userID string, v profile.Vector) error {
	v = profile.Normalize(v)
	args := vectorArgs(v)
	args = append(args, now(), userID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_preferences SET
			beach = ?, city = ?, adventure = ?, culture = ?, nightlife = ?, nature = ?, food = ?,
			updated_at = ?
		WHERE user_id = ?`,
		args...,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Swipe history ---

// AppendSwipe inserts one swipe-history row. Rows are never updated.
func (s *Store) AppendSwipe(ctx context.Context, e SwipeEvent) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var timeSpent sql.NullInt64
	if e.TimeSpentMs != nil {
		timeSpent = sql.NullInt64{Int64: *e.TimeSpentMs, Valid: true}
	}
	var price sql.NullFloat64
	if e.PriceShown != nil {
		price = sql.NullFloat64{Float64: *e.PriceShown, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swipe_history (id, user_id, destination_id, action, time_spent_ms, price_shown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.DestinationID, string(e.Action), timeSpent, price,
		createdAt.UTC().Format(swipeTimeFormat),
	)
	return err
}

// ListSwipes returns the user's most recent swipes, newest first.
func (s *Store) ListSwipes(ctx context.Context, userID string, limit int) ([]SwipeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, destination_id, action, time_spent_ms, price_shown, created_at
		FROM swipe_history WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SwipeEvent
	for rows.Next() {
		var e SwipeEvent
		var action, createdAt string
		var timeSpent sql.NullInt64
		var price sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.UserID, &e.DestinationID, &action, &timeSpent, &price, &createdAt); err != nil {
			return nil, err
		}
		e.Action = profile.Action(action)
		if timeSpent.Valid {
			v := timeSpent.Int64
			e.TimeSpentMs = &v
		}
		if price.Valid {
			v := price.Float64
			e.PriceShown = &v
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

// CountSwipes returns the number of swipe rows recorded for the user.
func (s *Store) CountSwipes(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM swipe_history WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// --- Saved set ---

// SaveDestination adds the pair to the saved set. Repeating it is a no-op.
func (s *Store) SaveDestination(ctx context.Context, userID, destinationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_destinations (user_id, destination_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, destination_id) DO NOTHING`,
		userID, destinationID, now(),
	)
	return err
}

// UnsaveDestination removes the pair from the saved set. Removing an absent
// pair is a no-op.
func (s *Store) UnsaveDestination(ctx context.Context, userID, destinationID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM saved_destinations WHERE user_id = ? AND destination_id = ?", userID, destinationID)
	return err
}

// ListSaved returns the user's saved destinations, newest first.
func (s *Store) ListSaved(ctx context.Context, userID string) ([]SavedDestination, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, destination_id, created_at FROM saved_destinations
		WHERE user_id = ? ORDER BY created_at DESC, destination_id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SavedDestination
	for rows.Next() {
		var d SavedDestination
		var createdAt string
		if err := rows.Scan(&d.UserID, &d.DestinationID, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// IsSaved reports whether the pair is in the saved set.
func (s *Store) IsSaved(ctx context.Context, userID, destinationID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM saved_destinations WHERE user_id = ? AND destination_id = ?",
		userID, destinationID,
	).Scan(&n)
	return n > 0, err
}
