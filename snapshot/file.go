package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

const snapshotSuffix = ".snap.zst"

// FileBackend keeps snapshots as files named by content id in one directory.
type FileBackend struct {
	dir         string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileBackend{
		dir:         dir,
		log:         log,
		locationURI: "file://" + dir,
	}, nil
}

func (b *FileBackend) Fetch(_ context.Context, id interfaces.ContentID) ([]byte, error) {
	path := b.path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	b.log.Debug("Fetched snapshot from file", "path", path, "size", len(data))
	return data, nil
}

// Store writes data through a temporary file so readers never observe a
// partial snapshot.
func (b *FileBackend) Store(_ context.Context, data []byte) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	path := b.path(id)

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	tmp, err := os.CreateTemp(b.dir, ".snapshot-*")
	if err != nil {
		return id, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return id, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return id, fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	b.log.Debug("Stored snapshot in file", "path", path, "contentID", id.String())
	return id, nil
}

func (b *FileBackend) Available(_ context.Context) bool {
	info, err := os.Stat(b.dir)
	if err != nil || !info.IsDir() {
		b.log.Debug("File backend unavailable", "dir", b.dir, "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.dir)
}

func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) path(id interfaces.ContentID) string {
	return filepath.Join(b.dir, id.String()+snapshotSuffix)
}
