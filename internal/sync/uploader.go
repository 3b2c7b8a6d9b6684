package sync

import (
	"context"
	"fmt"
	"io"

	"github.com/dl-alexandre/cellsync/internal/objectstore"
	"github.com/spf13/afero"
)

// ObjectWriter is the data plane
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// LocalReadError marks failures reading the source file
type LocalReadError struct {
	Path string
	Err  error
}

func (e *LocalReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *LocalReadError) Unwrap() error {
	return e.Err
}

// Uploader streams local files to the object store
type Uploader struct {
	fs    afero.Fs
	store ObjectWriter
}

func NewUploader(fsys afero.Fs, store ObjectWriter) *Uploader {
	return &Uploader{fs: fsys, store: store}
}

// Upload sends task.Source to task.Key. The size is taken at open time.
func (u *Uploader) Upload(ctx context.Context, task Task) (err error) {
	f, err := u.fs.Open(task.Source)
	if err != nil {
		return &LocalReadError{Path: task.Source, Err: err}
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = &LocalReadError{Path: task.Source, Err: closeErr}
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return &LocalReadError{Path: task.Source, Err: err}
	}
	if info.IsDir() {
		return &LocalReadError{Path: task.Source, Err: fmt.Errorf("is a directory")}
	}

	contentType, body, err := objectstore.DetectContentType(task.Source, f)
	if err != nil {
		return &LocalReadError{Path: task.Source, Err: err}
	}
	return u.store.PutObject(ctx, task.Key, &contextReader{ctx: ctx, r: body}, info.Size(), contentType)
}

// contextReader stops a stream once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
