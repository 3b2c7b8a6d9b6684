package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/dl-alexandre/cellsync/internal/config"
	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/sync/exclude"
	"github.com/dl-alexandre/cellsync/internal/sync/scanner"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Settings is the read side of the settings store
type Settings interface {
	Get() config.Config
}

// CompletionFunc observes runs that were not cancelled
type CompletionFunc func(jobID string, startedAt time.Time, summary Summary)

type ControllerOptions struct {
	FS       afero.Fs
	Meta     MetadataReader
	Store    ObjectWriter
	Session  SessionRefresher
	Errors   ErrorRecorder
	Hasher   Hasher
	Settings Settings
	Clock    clockwork.Clock
	Logger   logging.Logger
	// OnComplete runs on the job goroutine before the job is marked done
	OnComplete CompletionFunc
}

// Controller runs at most one pipeline per job id
type Controller struct {
	fs         afero.Fs
	detector   *Detector
	uploader   *Uploader
	session    SessionRefresher
	errs       ErrorRecorder
	settings   Settings
	clock      clockwork.Clock
	logger     logging.Logger
	onComplete CompletionFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       stdsync.Mutex
	registry *registry
	progress *ProgressTracker
	last     map[string]Summary
	// draining holds runs retired by a complete Progress poll whose
	// goroutine has not exited yet
	draining map[string]*jobHandle
}

func NewController(opts ControllerOptions) *Controller {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Hasher == nil {
		opts.Hasher = PlainHasher{FS: opts.FS}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		fs:         opts.FS,
		detector:   NewDetector(opts.Meta, opts.Hasher, opts.Logger),
		uploader:   NewUploader(opts.FS, opts.Store),
		session:    opts.Session,
		errs:       opts.Errors,
		settings:   opts.Settings,
		clock:      opts.Clock,
		logger:     opts.Logger,
		onComplete: opts.OnComplete,
		baseCtx:    ctx,
		baseCancel: cancel,
		registry:   newRegistry(),
		progress:   NewProgressTracker(),
		last:       make(map[string]Summary),
		draining:   make(map[string]*jobHandle),
	}
}

// Start launches the job in the background. A live run of the same id
// yields ErrAlreadyRunning; a finished one is cleared and replaced.
func (c *Controller) Start(req Request) error {
	if req.JobID == "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "job id is required").Build())
	}
	cfg := c.currentSettings()

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.registry.get(req.JobID); ok {
		if !h.finished() {
			return ErrAlreadyRunning
		}
		c.retire(req.JobID, h)
	}
	if h, ok := c.draining[req.JobID]; ok {
		if !h.finished() {
			return ErrAlreadyRunning
		}
		c.settleLocked(req.JobID, h)
	}
	if c.baseCtx.Err() != nil {
		return fmt.Errorf("controller is shut down")
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	h := c.registry.add(req.JobID, cancel, c.clock.Now())
	c.progress.Begin(req.JobID, h.run)

	go c.run(ctx, req, h, cfg)
	return nil
}

// Pause cancels the job and forgets its progress. Unknown ids are ignored.
func (c *Controller) Pause(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.registry.get(jobID); ok {
		h.cancel()
		c.registry.remove(jobID)
	}
	c.progress.Remove(jobID)
}

// Progress returns the job snapshot. Observing a finished job clears it,
// so the next call reports ErrNotRunning.
func (c *Controller) Progress(jobID string) (types.Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.registry.get(jobID)
	if !ok {
		return types.Progress{}, ErrNotRunning
	}
	p, ok := c.progress.Snapshot(jobID)
	if !ok {
		c.registry.remove(jobID)
		return types.Progress{}, ErrNotRunning
	}
	if p.Complete() || (p.Total == 0 && h.finished()) {
		c.retire(jobID, h)
	}
	return p, nil
}

// Done is closed when the current run of jobID exits
func (c *Controller) Done(jobID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.registry.get(jobID); ok {
		return h.done
	}
	if h, ok := c.draining[jobID]; ok {
		return h.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Summary returns the outcome counts of the last finished run of jobID
func (c *Controller) Summary(jobID string) (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.registry.get(jobID); ok && h.finished() {
		return h.getSummary(), true
	}
	if h, ok := c.draining[jobID]; ok && h.finished() {
		return h.getSummary(), true
	}
	s, ok := c.last[jobID]
	return s, ok
}

// Running lists the ids of jobs whose pipeline is still executing
func (c *Controller) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.registry.active()
	for id, h := range c.draining {
		if !h.finished() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every job and waits for their goroutines or ctx
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.baseCancel()
	handles := c.registry.all()
	for _, h := range c.draining {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// retire drops a job from the registry; callers hold c.mu. A run that is
// still executing its completion hook moves to draining until it exits.
func (c *Controller) retire(jobID string, h *jobHandle) {
	if h.finished() {
		c.last[jobID] = h.getSummary()
	} else {
		c.draining[jobID] = h
	}
	c.registry.remove(jobID)
	c.progress.Remove(jobID)
}

// settle records the summary of a draining run once its goroutine exits
func (c *Controller) settle(jobID string, h *jobHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(jobID, h)
}

func (c *Controller) settleLocked(jobID string, h *jobHandle) {
	if c.draining[jobID] != h {
		return
	}
	c.last[jobID] = h.getSummary()
	delete(c.draining, jobID)
}

func (c *Controller) currentSettings() config.Config {
	if c.settings == nil {
		return *config.DefaultConfig()
	}
	return c.settings.Get()
}

func (c *Controller) run(ctx context.Context, req Request, h *jobHandle, cfg config.Config) {
	defer c.settle(req.JobID, h)
	defer close(h.done)
	defer h.cancel()

	logger := c.logger.With(logging.F("job", req.JobID))
	logger.Info("Sync starting", logging.F("local", req.LocalRoot), logging.F("remote", req.RemoteRoot))

	summary := c.pipeline(ctx, req, h, cfg, logger)
	h.setSummary(summary)

	logger.Info("Sync finished",
		logging.F("total", summary.Total),
		logging.F("uploaded", summary.Uploaded),
		logging.F("skipped", summary.Skipped),
		logging.F("unsupported", summary.Unsupported),
		logging.F("failed", summary.Failed),
		logging.F("cancelled", summary.Cancelled),
		logging.F("duration", c.clock.Since(h.startedAt).String()),
	)
	if !summary.Cancelled && c.onComplete != nil {
		c.onComplete(req.JobID, h.startedAt, summary)
	}
}

func (c *Controller) pipeline(ctx context.Context, req Request, h *jobHandle, cfg config.Config, logger logging.Logger) Summary {
	var summary Summary
	matcher := exclude.New(exclude.Merge(cfg.GlobalIgnores, req.Excludes))

	entries, err := scanner.Walk(ctx, c.fs, req.LocalRoot, req.RemoteRoot, matcher)
	if err != nil {
		summary.Cancelled = ctx.Err() != nil
		summary.Error = err.Error()
		if !summary.Cancelled {
			c.record(ctx, fmt.Sprintf("scan %s: %v", req.LocalRoot, err))
		}
		return summary
	}

	tasks := make([]Task, len(entries))
	for i, e := range entries {
		tasks[i] = taskFromEntry(e)
	}
	summary.Total = len(tasks)
	c.progress.SetTotal(req.JobID, h.run, int64(len(tasks)))
	logger.Debug("Walk complete", logging.F("files", len(tasks)))

	changed, unchanged := c.detector.Filter(ctx, tasks)
	summary.Skipped = len(unchanged)
	c.progress.Advance(req.JobID, h.run, int64(len(unchanged)))
	logger.Debug("Change detection complete", logging.F("changed", len(changed)), logging.F("unchanged", len(unchanged)))

	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = cfg.Parallelism
	}
	pool := NewPool(c.uploader, c.detector, c.session, c.errs, PoolOptions{
		Parallelism:   parallelism,
		ThrottleDelay: cfg.GetRetryDelay(),
		MaxAttempts:   cfg.MaxAttempts,
		Clock:         c.clock,
		Logger:        logger,
	})
	result := pool.Run(ctx, changed, func(n int) {
		c.progress.Advance(req.JobID, h.run, int64(n))
	})

	summary.add(result)
	summary.Cancelled = result.Cancelled || ctx.Err() != nil
	return summary
}

func (c *Controller) record(ctx context.Context, message string) {
	if c.errs != nil {
		c.errs.Record(ctx, message)
	}
}
