package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/pkg/config"
)

func TestLocalStoragePutOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := DumpKey("teacher-1", "dump-1")
	require.Equal(t, "teacher-1/dump-1.sql", key)
	require.NoError(t, store.Put(ctx, key, strings.NewReader("CREATE TABLE t(id INTEGER);")))

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "CREATE TABLE t(id INTEGER);", string(body))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Open(ctx, key)
	require.ErrorIs(t, err, ErrNotExist)

	// deleting twice is fine
	require.NoError(t, store.Delete(ctx, key))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.sql", "/etc/passwd", "a/../../b.sql"} {
		require.Error(t, store.Put(ctx, key, strings.NewReader("x")), key)
	}
}

func TestLocalStoragePutHonoursCancellation(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, store.Put(ctx, "a/b.sql", strings.NewReader("x")))
	_, err = store.Open(context.Background(), "a/b.sql")
	require.ErrorIs(t, err, ErrNotExist)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	stale := filepath.Join(dir, ".upload-123")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, store.Put(context.Background(), "t/d.sql", strings.NewReader("x")))

	deleted, err := store.CleanupOlderThan(time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{".upload-123"}, deleted)
	_, err = os.Stat(store.Path("t/d.sql"))
	require.NoError(t, err)
}

func TestReadAllLimit(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, config.DumpsConfig{Store: config.StoreLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "t/d.sql", strings.NewReader("0123456789")))

	data, err := ReadAll(ctx, store, "t/d.sql", 10)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))

	_, err = ReadAll(ctx, store, "t/d.sql", 5)
	require.Error(t, err)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	_, err := New(context.Background(), config.DumpsConfig{Store: "ftp"})
	require.Error(t, err)
}
