package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transfer_progress (
	key        TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps snapshots as JSON rows in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*models.TransferProgress, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM transfer_progress WHERE key = ?`, key).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewTransferProgress(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	p := &models.TransferProgress{}
	if err := json.Unmarshal([]byte(state), p); err != nil {
		return nil, fmt.Errorf("failed to decode progress for %s: %w", key, err)
	}
	p.Normalize()
	return p, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, p *models.TransferProgress) error {
	state, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transfer_progress (key, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		key, string(state), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
