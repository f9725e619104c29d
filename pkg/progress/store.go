// Package progress persists TransferProgress snapshots so that an
// interrupted transfer can resume where it stopped.
//
// Three backends are available: a directory of JSON or YAML files (the
// default, easy to inspect and hand-edit), a SQLite database and a MongoDB
// collection. All of them return a zero-valued progress for an unknown key.
package progress

import (
	"context"
	"fmt"
	"strings"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/config"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
)

// Store loads and saves progress keyed by source database.
type Store interface {
	Load(ctx context.Context, key string) (*models.TransferProgress, error)
	Save(ctx context.Context, key string, progress *models.TransferProgress) error
	Close() error
}

// Key normalises a database id so that the dashed and undashed forms of the
// same id share one snapshot.
func Key(databaseID string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(databaseID), "-", ""))
}

// Open creates the store selected by cfg.ProgressBackend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ProgressBackend {
	case "", "file":
		return NewFileStore(cfg.ProgressDir, Format(cfg.ProgressFormat))
	case "sqlite":
		return OpenSQLiteStore(ctx, cfg.SQLitePath)
	case "mongo":
		return OpenMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown progress backend %q", cfg.ProgressBackend)
	}
}
