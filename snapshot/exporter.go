package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/storage"
)

// Exporter writes zstd compressed database snapshots to a backend. The
// content id of a snapshot is the SHA-256 of its compressed bytes.
type Exporter struct {
	db      *storage.DB
	backend interfaces.BlobStore
	log     *slog.Logger
}

func NewExporter(db *storage.DB, backend interfaces.BlobStore, log *slog.Logger) *Exporter {
	return &Exporter{db: db, backend: backend, log: log}
}

// Export takes a consistent snapshot and stores it.
func (e *Exporter) Export(ctx context.Context) (interfaces.ContentID, error) {
	start := time.Now()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to create encoder: %w", err)
	}
	raw, err := e.db.WriteSnapshot(enc)
	if err != nil {
		enc.Close()
		return interfaces.ContentID{}, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to compress snapshot: %w", err)
	}

	id, err := e.backend.Store(ctx, buf.Bytes())
	if err != nil {
		return interfaces.ContentID{}, err
	}

	e.log.Info("Snapshot exported",
		"contentID", id.String(),
		"backend", e.backend.Name(),
		"size", raw,
		"compressed", buf.Len(),
		"duration", time.Since(start))
	return id, nil
}

// Run exports a snapshot every interval until ctx is done.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.log.Error("Periodic snapshot failed", "err", err)
			}
		}
	}
}

// Restore fetches snapshot id from backend, checks it against its content
// id and writes the decompressed database to path. An existing file at path
// is replaced only once the new one is complete.
func Restore(ctx context.Context, backend interfaces.BlobStore, id interfaces.ContentID, path string) error {
	data, err := backend.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot %s: %w", id, err)
	}
	if got := interfaces.ComputeID(data); got != id {
		return fmt.Errorf("snapshot %s failed verification: content hashes to %s", id, got)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, dec); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
