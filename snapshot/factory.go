package snapshot

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

// BackendFor creates a snapshot backend from a location URI.
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-central-1&endpoint=minio:9000
//   - vault://host:port/mount/path?token=...&tls=false
func BackendFor(uri string, log *slog.Logger) (interfaces.BlobStore, error) {
	loc, err := interfaces.ParseBlobStoreLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "file":
		return fileBackend(loc, log)
	case "s3":
		return s3Backend(uri, loc, log)
	case "vault":
		return vaultBackend(loc, log)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// NewMultiBackendFor creates a backend for each URI and fans out over them.
// URIs that cannot be turned into a backend are logged and skipped.
func NewMultiBackendFor(uris []string, log *slog.Logger) (*MultiBackend, error) {
	backends := make([]interfaces.BlobStore, 0, len(uris))
	for _, uri := range uris {
		backend, err := BackendFor(uri, log)
		if err != nil {
			log.Warn("Failed to create snapshot backend", "uri", uri, "err", err)
			continue
		}
		backends = append(backends, backend)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid snapshot backends created")
	}
	return NewMultiBackend(backends, log), nil
}

func fileBackend(loc interfaces.BlobStoreLocation, log *slog.Logger) (interfaces.BlobStore, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileBackend(path, log)
}

func s3Backend(uri string, loc interfaces.BlobStoreLocation, log *slog.Logger) (interfaces.BlobStore, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, uri)
	}

	region := loc.Query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if user := userInfo(uri); user != "" {
		accessKey, secretKey, _ = strings.Cut(user, ":")
	}
	return NewS3Backend(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.Query.Get("endpoint"), accessKey, secretKey, log)
}

func vaultBackend(loc interfaces.BlobStoreLocation, log *slog.Logger) (interfaces.BlobStore, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing vault address in %s", interfaces.ErrInvalidLocationURI, loc)
	}

	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")
	if mount == "" {
		mount = "secret"
	}

	scheme := "https"
	if loc.Query.Get("tls") == "false" {
		scheme = "http"
	}
	return NewVaultBackend(scheme+"://"+loc.Host, loc.Query.Get("token"), mount, dataPath, log)
}

// userInfo extracts the user:password part of uri, which url.Parse keeps out
// of BlobStoreLocation.
func userInfo(uri string) string {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return ""
	}
	authority, _, _ := strings.Cut(rest, "/")
	user, _, found := strings.Cut(authority, "@")
	if !found {
		return ""
	}
	return user
}
