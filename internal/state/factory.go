package state

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// OpenBackend picks a backend from a DSN: a bare path or file:// URL maps to
// the JSON file backend, postgres:// to the database backend, memory:// to
// the in-memory one.
func OpenBackend(ctx context.Context, dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("state dsn is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return NewFileBackend(dsn), nil
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		// Relative paths like file://.chatmig-state parse with the first
		// segment in Host, absolute ones in Path.
		path := parsed.Opaque
		if path == "" {
			path = parsed.Host + parsed.Path
		}
		if path == "" {
			path = dsn
		}
		return NewFileBackend(path), nil
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", parsed.Scheme)
	}
}
