// Package persist stores published workspace snapshots in SQLite so a
// restart does not need a cold re-scan.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/facade"
	"github.com/bayleafwalker/bindery-workspace/internal/registry"
)

// SchemaVersion tags stored snapshots. Snapshots with another version are
// discarded on load.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS modules (
	descriptor TEXT PRIMARY KEY,
	facade TEXT,
	capabilities TEXT NOT NULL,
	requirements TEXT NOT NULL
);
`

// Store is a SnapshotStore backed by a SQLite file.
type Store struct {
	db      *sql.DB
	path    string
	version int
}

// Open opens or creates the snapshot database at path.
func Open(path string) (*Store, error) {
	return open(path, SchemaVersion)
}

func open(path string, version int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, path: path, version: version}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored snapshot with r.
func (s *Store) Save(ctx context.Context, r *registry.ProjectRegistry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM modules"); err != nil {
		return fmt.Errorf("clearing modules: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO modules (descriptor, facade, capabilities, requirements) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range r.Entries() {
		var state sql.NullString
		if e.Facade != nil {
			data, err := json.Marshal(e.Facade.State())
			if err != nil {
				return fmt.Errorf("encoding facade %s: %w", e.Descriptor, err)
			}
			state = sql.NullString{String: string(data), Valid: true}
		}
		caps, err := json.Marshal(e.Capabilities)
		if err != nil {
			return fmt.Errorf("encoding capabilities %s: %w", e.Descriptor, err)
		}
		reqs, err := json.Marshal(e.Requirements)
		if err != nil {
			return fmt.Errorf("encoding requirements %s: %w", e.Descriptor, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Descriptor, state, string(caps), string(reqs)); err != nil {
			return fmt.Errorf("inserting %s: %w", e.Descriptor, err)
		}
	}

	for key, value := range map[string]string{
		"schema_version": strconv.Itoa(s.version),
		"saved_at":       time.Now().UTC().Format(time.RFC3339Nano),
	} {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Load returns the stored snapshot, or nil when nothing usable is stored.
// A snapshot written under another schema version is deleted.
func (s *Store) Load(ctx context.Context) (*registry.ProjectRegistry, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if v, err := strconv.Atoi(raw); err != nil || v != s.version {
		log.FromContext(ctx).Info("discarding snapshot with unexpected schema version", "found", raw, "want", s.version)
		return nil, s.clear(ctx)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT descriptor, facade, capabilities, requirements FROM modules ORDER BY descriptor")
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	var entries []registry.Entry
	for rows.Next() {
		var (
			e          registry.Entry
			state      sql.NullString
			caps, reqs string
		)
		if err := rows.Scan(&e.Descriptor, &state, &caps, &reqs); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		if state.Valid {
			var fs facade.State
			if err := json.Unmarshal([]byte(state.String), &fs); err != nil {
				return nil, fmt.Errorf("decoding facade %s: %w", e.Descriptor, err)
			}
			e.Facade = facade.FromState(fs)
		}
		var capList []capability.Capability
		if err := json.Unmarshal([]byte(caps), &capList); err != nil {
			return nil, fmt.Errorf("decoding capabilities %s: %w", e.Descriptor, err)
		}
		e.Capabilities = capList
		if err := json.Unmarshal([]byte(reqs), &e.Requirements); err != nil {
			return nil, fmt.Errorf("decoding requirements %s: %w", e.Descriptor, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return registry.Build(entries), nil
}

func (s *Store) clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM modules; DELETE FROM meta;"); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return nil
}
