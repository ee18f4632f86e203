//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"

	"neurodecode/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result model.AggregateResult) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeResult(result)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO results (key, run_id, scope, data_id, mode, folds, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			run_id = excluded.run_id,
			scope = excluded.scope,
			data_id = excluded.data_id,
			mode = excluded.mode,
			folds = excluded.folds,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, result.Key(), result.RunID, result.Scope, result.DataID, string(result.Mode), len(result.Folds),
		CurrentSchemaVersion, CurrentCodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetResult(ctx context.Context, key string) (model.AggregateResult, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AggregateResult{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM results WHERE key = ?`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AggregateResult{}, false, nil
		}
		return model.AggregateResult{}, false, err
	}

	result, err := DecodeResult(payload)
	if err != nil {
		return model.AggregateResult{}, false, errors.Wrapf(err, "decode result %s", key)
	}
	return result, true, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context) ([]ResultInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT key, run_id, scope, data_id, mode, folds, length(payload)
		FROM results ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultInfo
	for rows.Next() {
		var info ResultInfo
		var mode string
		if err := rows.Scan(&info.Key, &info.RunID, &info.Scope, &info.DataID, &mode, &info.Folds, &info.Bytes); err != nil {
			return nil, err
		}
		info.Mode = model.Mode(mode)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			key TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			data_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			folds INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
