package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

// MultiBackend writes snapshots to every available backend and reads from
// the first one that has them.
type MultiBackend struct {
	backends []interfaces.BlobStore
	log      *slog.Logger
}

func NewMultiBackend(backends []interfaces.BlobStore, log *slog.Logger) *MultiBackend {
	if log == nil {
		log = slog.Default()
	}
	return &MultiBackend{backends: backends, log: log}
}

func (m *MultiBackend) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", "backend", backend.Name(), "contentID", id.String())
			continue
		}

		data, err := backend.Fetch(ctx, id)
		if err == nil {
			m.log.Info("Fetched snapshot",
				"backend", backend.Name(),
				"contentID", id.String(),
				"duration", time.Since(start))
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backend available", interfaces.ErrBackendUnavailable)
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", id, errors.Join(errs...))
}

// Store succeeds if at least one backend accepted the data.
func (m *MultiBackend) Store(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	stored := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", "backend", backend.Name())
			continue
		}

		got, err := backend.Store(ctx, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		if got != id {
			m.log.Warn("Backend returned unexpected content id", "backend", backend.Name(), "expected", id.String(), "actual", got.String())
		}
		stored++
	}

	if stored == 0 {
		if len(errs) == 0 {
			return id, fmt.Errorf("%w: no backend available", interfaces.ErrBackendUnavailable)
		}
		return id, fmt.Errorf("all backends failed to store snapshot: %w", errors.Join(errs...))
	}
	if len(errs) > 0 {
		m.log.Warn("Snapshot stored on a subset of backends", "stored", stored, "failed", len(errs), "err", errors.Join(errs...))
	}
	return id, nil
}

func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiBackend) Name() string {
	return "multi"
}

func (m *MultiBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
