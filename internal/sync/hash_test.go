package sync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/cellsync/internal/sync/index"
	testhelpers "github.com/dl-alexandre/cellsync/internal/testing"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

func TestHashFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	large := strings.Repeat("0123456789abcdef", 5000)
	testhelpers.WriteTree(t, fsys, "/r", map[string]string{
		"empty": "",
		"small": "hello",
		"large": large,
	})

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"small", "hello"},
		{"large", large},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HashFile(fsys, "/r/"+tt.name)
			if err != nil {
				t.Fatalf("HashFile failed: %v", err)
			}
			if got != testhelpers.MD5Hex(tt.content) {
				t.Errorf("HashFile = %s, want %s", got, testhelpers.MD5Hex(tt.content))
			}
		})
	}

	if got, _ := HashFile(fsys, "/r/empty"); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("empty md5 = %s", got)
	}
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(afero.NewMemMapFs(), "/nope")
	if !errors.Is(err, ErrHashIO) {
		t.Errorf("Expected ErrHashIO, got %v", err)
	}
}

func TestHashFileCancelled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	testhelpers.WriteTree(t, fsys, "/r", map[string]string{"f": "data"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := HashFileContext(ctx, fsys, "/r/f"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

type countingCache struct {
	*index.DB
	lookups, stores int
}

func (c *countingCache) LookupHash(ctx context.Context, path string, size, mtime int64) (string, bool, error) {
	c.lookups++
	return c.DB.LookupHash(ctx, path, size, mtime)
}

func (c *countingCache) StoreHash(ctx context.Context, entry index.HashEntry) error {
	c.stores++
	return c.DB.StoreHash(ctx, entry)
}

func newCachedHasherFixture(t *testing.T) (*CachedHasher, *countingCache, afero.Fs) {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fsys := afero.NewMemMapFs()
	cache := &countingCache{DB: db}
	hasher := NewCachedHasher(fsys, cache, nil)
	hasher.clock = clockwork.NewFakeClockAt(time.Unix(1800000000, 0))
	return hasher, cache, fsys
}

func writeWithMTime(t *testing.T, fsys afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fsys.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

func TestCachedHasher(t *testing.T) {
	hasher, cache, fsys := newCachedHasherFixture(t)
	ctx := context.Background()
	task := Task{Source: "/r/a.txt"}
	writeWithMTime(t, fsys, task.Source, "one", time.Unix(1700000000, 0))

	first, err := hasher.Hash(ctx, task)
	if err != nil || first != testhelpers.MD5Hex("one") {
		t.Fatalf("first Hash = (%s, %v)", first, err)
	}
	second, err := hasher.Hash(ctx, task)
	if err != nil || second != first {
		t.Fatalf("second Hash = (%s, %v)", second, err)
	}
	if cache.stores != 1 {
		t.Errorf("Expected a single cache store, got %d", cache.stores)
	}

	// a size change invalidates the cached entry
	writeWithMTime(t, fsys, task.Source, "changed", time.Unix(1700000000, 0))
	third, err := hasher.Hash(ctx, task)
	if err != nil || third != testhelpers.MD5Hex("changed") {
		t.Errorf("Hash after change = (%s, %v)", third, err)
	}
}

func TestCachedHasherSameSecondEdit(t *testing.T) {
	hasher, _, fsys := newCachedHasherFixture(t)
	ctx := context.Background()
	task := Task{Source: "/r/a.txt"}

	writeWithMTime(t, fsys, task.Source, "v1", time.Unix(1700000000, 100))
	if _, err := hasher.Hash(ctx, task); err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// same size, same second, different content
	writeWithMTime(t, fsys, task.Source, "v2", time.Unix(1700000000, 900000000))
	got, err := hasher.Hash(ctx, task)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if want := testhelpers.MD5Hex("v2"); got != want {
		t.Errorf("Hash after same-second edit = %s, want %s", got, want)
	}
}

func TestCachedHasherSkipsRecentFiles(t *testing.T) {
	hasher, cache, fsys := newCachedHasherFixture(t)
	ctx := context.Background()
	task := Task{Source: "/r/a.txt"}
	now := hasher.clock.Now()

	writeWithMTime(t, fsys, task.Source, "fresh", now.Add(-time.Second))
	if _, err := hasher.Hash(ctx, task); err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if cache.stores != 0 {
		t.Errorf("file modified %v ago was cached", time.Second)
	}

	hasher.clock.(clockwork.FakeClock).Advance(racyWindow)
	if _, err := hasher.Hash(ctx, task); err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if cache.stores != 1 {
		t.Errorf("stores = %d after the file aged, want 1", cache.stores)
	}
}
