package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/dl-alexandre/cellsync/internal/auth"
	"github.com/dl-alexandre/cellsync/internal/errors"
	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// TaskUploader sends one task to the data plane
type TaskUploader interface {
	Upload(ctx context.Context, task Task) error
}

// ChangeChecker decides whether a task still needs uploading
type ChangeChecker interface {
	Unchanged(ctx context.Context, task Task) bool
}

// SessionRefresher renews expired credentials
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// ErrorRecorder receives user-visible failures
type ErrorRecorder interface {
	Record(ctx context.Context, message string)
}

type PoolOptions struct {
	Parallelism   int
	ThrottleDelay time.Duration
	// MaxAttempts 0 retries until the job is cancelled
	MaxAttempts int
	Clock       clockwork.Clock
	Logger      logging.Logger
}

// Pool uploads the tasks of one job in passes. Failed tasks move to the
// next pass until the queue drains or ctx is cancelled.
type Pool struct {
	uploader TaskUploader
	checker  ChangeChecker
	session  SessionRefresher
	errs     ErrorRecorder

	parallelism int64
	delay       time.Duration
	maxAttempts int
	clock       clockwork.Clock
	logger      logging.Logger
}

func NewPool(uploader TaskUploader, checker ChangeChecker, session SessionRefresher, errs ErrorRecorder, opts PoolOptions) *Pool {
	if opts.Parallelism <= 0 {
		opts.Parallelism = utils.DefaultParallelism
	}
	if opts.ThrottleDelay < 0 {
		opts.ThrottleDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Pool{
		uploader:    uploader,
		checker:     checker,
		session:     session,
		errs:        errs,
		parallelism: int64(opts.Parallelism),
		delay:       opts.ThrottleDelay,
		maxAttempts: opts.MaxAttempts,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Run processes tasks and calls advance once per retired task. Results of
// attempts that finish after ctx is done are dropped.
func (p *Pool) Run(ctx context.Context, tasks []Task, advance func(n int)) Summary {
	var (
		mu      stdsync.Mutex
		summary Summary
	)
	queue := tasks
	pass := 0

	for len(queue) > 0 && ctx.Err() == nil {
		pass++
		p.logger.Debug("Upload pass starting", logging.F("pass", pass), logging.F("tasks", len(queue)))

		sem := semaphore.NewWeighted(p.parallelism)
		var wg stdsync.WaitGroup
		var next []Task

		for _, task := range queue {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(task Task) {
				defer wg.Done()
				defer sem.Release(1)

				result, err := p.attempt(ctx, &task)
				if ctx.Err() != nil {
					return
				}

				var message string
				mu.Lock()
				switch {
				case result == outcomeUploaded:
					summary.Uploaded++
					advance(1)
				case result == outcomeSkipped:
					summary.Skipped++
					advance(1)
				case errors.IsUnsupported(err):
					message = fmt.Sprintf("upload %s: %v", task.Source, err)
					summary.Unsupported++
					advance(1)
				case p.exhausted(task):
					message = fmt.Sprintf("upload %s: giving up after %d attempts: %v", task.Source, task.Attempt, err)
					summary.Failed++
					advance(1)
				case isAuthFailure(err):
					next = append(next, task)
				default:
					message = fmt.Sprintf("upload %s: %v", task.Source, err)
					next = append(next, task)
				}
				mu.Unlock()

				// the error log may hit sqlite and the notifier
				if message != "" {
					p.record(ctx, message)
				}
			}(task)
		}
		wg.Wait()
		queue = next
	}

	if ctx.Err() != nil {
		summary.Cancelled = true
	}
	return summary
}

func (p *Pool) attempt(ctx context.Context, task *Task) (outcome, error) {
	task.Attempt++
	if task.Attempt > 1 {
		if err := p.throttle(ctx); err != nil {
			return outcomeFailed, err
		}
		if p.checker != nil && p.checker.Unchanged(ctx, *task) {
			p.logger.Debug("Skipping unchanged file on retry", logging.F("key", task.Key))
			return outcomeSkipped, nil
		}
	}

	err := p.uploader.Upload(ctx, *task)
	if err == nil {
		p.logger.Debug("Uploaded", logging.F("key", task.Key), logging.F("attempt", task.Attempt))
		return outcomeUploaded, nil
	}
	if ctx.Err() != nil {
		return outcomeFailed, err
	}

	if isAuthFailure(err) {
		p.logger.Info("Credentials rejected, refreshing session", logging.F("key", task.Key))
		if p.session != nil {
			if rerr := p.session.Refresh(ctx); rerr != nil && ctx.Err() == nil {
				p.record(ctx, fmt.Sprintf("session refresh failed: %v", rerr))
			}
		}
	} else {
		p.logger.Warn("Upload failed",
			logging.F("key", task.Key),
			logging.F("attempt", task.Attempt),
			logging.F("kind", errors.KindOf(err).String()),
			logging.F("error", err),
		)
	}
	return outcomeFailed, err
}

func (p *Pool) throttle(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-p.clock.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) exhausted(task Task) bool {
	return p.maxAttempts > 0 && task.Attempt >= p.maxAttempts
}

func (p *Pool) record(ctx context.Context, message string) {
	if p.errs != nil {
		p.errs.Record(ctx, message)
	}
}

func isAuthFailure(err error) bool {
	return stderrors.Is(err, auth.ErrNoSession) || errors.IsAuthExpired(err)
}
