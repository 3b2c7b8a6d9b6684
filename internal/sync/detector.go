package sync

import (
	"context"
	"strings"

	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
)

// MetadataReader resolves remote nodes by path
type MetadataReader interface {
	BulkGet(ctx context.Context, paths []string) (*types.BulkMetaData, error)
}

// Detector compares local fingerprints with remote ETags
type Detector struct {
	meta      MetadataReader
	hasher    Hasher
	batchSize int
	logger    logging.Logger
}

func NewDetector(meta MetadataReader, hasher Hasher, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Detector{
		meta:      meta,
		hasher:    hasher,
		batchSize: utils.MetaBulkBatchSize,
		logger:    logger,
	}
}

// Unchanged reports whether the remote copy of task already has the local
// content. Any lookup or hashing failure counts as changed.
func (d *Detector) Unchanged(ctx context.Context, task Task) bool {
	bulk, err := d.meta.BulkGet(ctx, []string{task.Key})
	if err != nil {
		d.logger.Debug("Remote lookup failed", logging.F("key", task.Key), logging.F("error", err))
		return false
	}
	etag, ok := remoteTags(bulk)[normalizeKey(task.Key)]
	if !ok {
		return false
	}
	return d.matches(ctx, task, etag)
}

// Filter splits tasks into changed and unchanged using one metadata request
// per batch. A failed batch counts entirely as changed.
func (d *Detector) Filter(ctx context.Context, tasks []Task) (changed, unchanged []Task) {
	for start := 0; start < len(tasks); start += d.batchSize {
		end := start + d.batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[start:end]
		if ctx.Err() != nil {
			changed = append(changed, batch...)
			continue
		}

		keys := make([]string, len(batch))
		for i, t := range batch {
			keys[i] = t.Key
		}
		bulk, err := d.meta.BulkGet(ctx, keys)
		if err != nil {
			d.logger.Warn("Remote batch lookup failed", logging.F("keys", len(keys)), logging.F("error", err))
			changed = append(changed, batch...)
			continue
		}

		tags := remoteTags(bulk)
		for _, t := range batch {
			etag, ok := tags[normalizeKey(t.Key)]
			if ok && d.matches(ctx, t, etag) {
				unchanged = append(unchanged, t)
			} else {
				changed = append(changed, t)
			}
		}
	}
	return changed, unchanged
}

func (d *Detector) matches(ctx context.Context, task Task, etag string) bool {
	if etag == "" {
		return false
	}
	sum, err := d.hasher.Hash(ctx, task)
	if err != nil {
		d.logger.Debug("Hash failed", logging.F("path", task.Source), logging.F("error", err))
		return false
	}
	return sum == etag
}

func remoteTags(bulk *types.BulkMetaData) map[string]string {
	tags := make(map[string]string)
	if bulk == nil {
		return tags
	}
	for _, n := range bulk.Nodes {
		if n.IsDir() {
			continue
		}
		tags[n.Key()] = n.Etag
	}
	return tags
}

func normalizeKey(key string) string {
	return strings.Trim(key, "/")
}
