package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
)

// Format is the encoding of progress files.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// FileStore keeps one file per key in a directory.
type FileStore struct {
	dir    string
	format Format
}

// NewFileStore creates dir if needed. An empty format means JSON.
func NewFileStore(dir string, format Format) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatYAML {
		return nil, fmt.Errorf("unsupported progress format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	return &FileStore{dir: dir, format: format}, nil
}

// Path returns the file that holds the snapshot for key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, "transfer_progress_"+unsafeChars.ReplaceAllString(key, "_")+"."+string(s.format))
}

func (s *FileStore) Load(_ context.Context, key string) (*models.TransferProgress, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewTransferProgress(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	p := &models.TransferProgress{}
	switch s.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, p)
	default:
		err = json.Unmarshal(data, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode progress file %s: %w", s.Path(key), err)
	}
	p.Normalize()
	return p, nil
}

func (s *FileStore) Save(_ context.Context, key string, p *models.TransferProgress) error {
	var buf bytes.Buffer
	switch s.format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode progress: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode progress: %w", err)
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode progress: %w", err)
		}
	}
	return writeFileAtomic(s.Path(key), buf.Bytes())
}

func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over path, so readers see either the old or the new snapshot.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync progress: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close progress file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set progress file mode: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}
