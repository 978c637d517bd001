package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/noah-isme/sqlclassroom-api/pkg/config"
)

// ErrNotExist is returned when a dump object is missing from the store.
var ErrNotExist = errors.New("dump object not found")

// DumpStore keeps the bodies of uploaded SQL dumps. Keys are slash separated
// and relative to the store root.
type DumpStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DumpKey returns the object key of a teacher dump.
func DumpKey(teacherID, dumpID string) string {
	return path.Join(teacherID, dumpID+".sql")
}

// New builds the dump store selected by cfg.Store.
func New(ctx context.Context, cfg config.DumpsConfig) (DumpStore, error) {
	switch cfg.Store {
	case config.StoreLocal, "":
		return NewLocalStorage(cfg.LocalDir)
	case config.StoreS3:
		return NewS3Store(cfg.Region, cfg.Bucket, cfg.Prefix)
	case config.StoreGCS:
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown dump store %q", cfg.Store)
	}
}

// ReadAll reads a whole dump, capped at limit bytes when limit is positive.
func ReadAll(ctx context.Context, store DumpStore, key string, limit int64) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", key, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("dump %s exceeds %d bytes", key, limit)
	}
	return data, nil
}

func objectKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
