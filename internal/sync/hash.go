package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/sync/index"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// ErrHashIO wraps open and read failures while fingerprinting a file
var ErrHashIO = errors.New("hash: i/o failure")

// HashFile returns the lowercase hex md5 of the file at path
func HashFile(fsys afero.Fs, path string) (string, error) {
	return HashFileContext(context.Background(), fsys, path)
}

// HashFileContext is HashFile with cancellation checked between chunks
func HashFileContext(ctx context.Context, fsys afero.Fs, path string) (sum string, err error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashIO, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrHashIO, closeErr)
		}
	}()

	h := md5.New()
	buf := make([]byte, utils.HashBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("%w: %v", ErrHashIO, readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hasher fingerprints local files
type Hasher interface {
	Hash(ctx context.Context, task Task) (string, error)
}

// PlainHasher reads the whole file on every call
type PlainHasher struct {
	FS afero.Fs
}

func (h PlainHasher) Hash(ctx context.Context, task Task) (string, error) {
	return HashFileContext(ctx, h.FS, task.Source)
}

// HashCache stores fingerprints keyed by path, size and mtime
type HashCache interface {
	LookupHash(ctx context.Context, path string, size, mtime int64) (string, bool, error)
	StoreHash(ctx context.Context, entry index.HashEntry) error
}

// CachedHasher skips re-reading files whose size and mtime are unchanged.
// Cache failures fall back to hashing.
type CachedHasher struct {
	fs     afero.Fs
	cache  HashCache
	clock  clockwork.Clock
	logger logging.Logger
}

// racyWindow covers filesystems that store mtime at coarse resolution
const racyWindow = 2 * time.Second

func NewCachedHasher(fsys afero.Fs, cache HashCache, logger logging.Logger) *CachedHasher {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &CachedHasher{fs: fsys, cache: cache, clock: clockwork.NewRealClock(), logger: logger}
}

func (h *CachedHasher) Hash(ctx context.Context, task Task) (string, error) {
	// the walk snapshot may be stale on retry passes
	size, mtime := task.Size, task.ModTime
	if info, err := h.fs.Stat(task.Source); err == nil {
		size, mtime = info.Size(), info.ModTime().UnixNano()
	}

	if sum, ok, err := h.cache.LookupHash(ctx, task.Source, size, mtime); err != nil {
		h.logger.Debug("Hash cache lookup failed", logging.F("path", task.Source), logging.F("error", err))
	} else if ok {
		return sum, nil
	}

	sum, err := HashFileContext(ctx, h.fs, task.Source)
	if err != nil {
		return "", err
	}
	// a write landing in the same timestamp tick as this read would leave
	// size and mtime unchanged, so recent files are not cached
	if h.clock.Since(time.Unix(0, mtime)) < racyWindow {
		return sum, nil
	}
	if err := h.cache.StoreHash(ctx, index.HashEntry{Path: task.Source, Size: size, MTime: mtime, MD5: sum}); err != nil {
		h.logger.Debug("Hash cache store failed", logging.F("path", task.Source), logging.F("error", err))
	}
	return sum, nil
}
