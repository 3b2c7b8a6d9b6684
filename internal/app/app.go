package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dl-alexandre/cellsync/internal/api"
	"github.com/dl-alexandre/cellsync/internal/auth"
	"github.com/dl-alexandre/cellsync/internal/config"
	"github.com/dl-alexandre/cellsync/internal/errlog"
	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/objectstore"
	"github.com/dl-alexandre/cellsync/internal/scheduler"
	"github.com/dl-alexandre/cellsync/internal/sync"
	"github.com/dl-alexandre/cellsync/internal/sync/index"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Options wires the process-wide services
type Options struct {
	Settings *config.Store
	Secrets  auth.Secrets
	// IndexPath is the sqlite file holding tasks, hashes and the error log
	IndexPath string
	FS        afero.Fs
	Transport http.RoundTripper
	Notifier  errlog.Notifier
	Clock     clockwork.Clock
	Logger    logging.Logger
}

// App is the command surface shared by the CLI and the scheduler
type App struct {
	settings   *config.Store
	secrets    auth.Secrets
	session    *auth.Manager
	client     *api.Client
	objects    *objectstore.Store
	db         *index.DB
	errs       *errlog.Log
	controller *sync.Controller
	clock      clockwork.Clock
	logger     logging.Logger
}

func New(opts Options) (*App, error) {
	if opts.Settings == nil {
		opts.Settings = config.NewMemoryStore(nil)
	}
	if opts.Secrets == nil {
		return nil, fmt.Errorf("secret store is required")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.IndexPath == "" {
		dir, err := config.GetConfigDir()
		if err != nil {
			return nil, err
		}
		opts.IndexPath = index.DefaultPath(dir)
	}

	db, err := index.Open(opts.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", filepath.Clean(opts.IndexPath), err)
	}

	cfg := opts.Settings.Get()
	session := auth.NewManager(opts.Secrets, auth.ManagerOptions{Clock: opts.Clock, Logger: opts.Logger})
	client := api.NewClient(session, api.ClientOptions{
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.GetRetryBaseDelay(),
		RequestTimeout: cfg.GetRequestTimeout(),
		Transport:      opts.Transport,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
	})
	session.SetAuthenticator(client)

	objects := objectstore.New(session, objectstore.Options{
		Transport: opts.Transport,
		Logger:    opts.Logger,
	})

	settings := opts.Settings
	errs := errlog.New(errlog.NewIndexStore(db), errlog.Options{
		Notifier:      opts.Notifier,
		NotifyEnabled: func() bool { return settings.Get().NotifyOnFailure },
		Clock:         opts.Clock,
		Logger:        opts.Logger,
	})

	a := &App{
		settings: settings,
		secrets:  opts.Secrets,
		session:  session,
		client:   client,
		objects:  objects,
		db:       db,
		errs:     errs,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	a.controller = sync.NewController(sync.ControllerOptions{
		FS:         opts.FS,
		Meta:       client,
		Store:      objects,
		Session:    session,
		Errors:     errs,
		Hasher:     sync.NewCachedHasher(opts.FS, db, opts.Logger),
		Settings:   settings,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		OnComplete: a.markSynced,
	})
	return a, nil
}

// Close cancels running jobs and closes the index
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := a.controller.Shutdown(ctx)
	return errors.Join(shutdownErr, a.db.Close())
}

// Connect records the server and user and returns the user profile. A
// non-empty token is used as a personal access token; otherwise the stored
// credentials are used to log in when no session exists.
func (a *App) Connect(ctx context.Context, endpoint, username, token string) (*types.UserData, error) {
	endpoint = auth.NormalizeEndpoint(endpoint)
	if endpoint == "" || username == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "endpoint and username are required").Build())
	}

	if token != "" {
		a.session.UseToken(endpoint, username, token)
	} else {
		a.session.Connect(endpoint, username)
		if err := a.session.Refresh(ctx); err != nil {
			return nil, sessionError(err)
		}
	}

	user, err := a.client.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := a.secrets.SetUsername(username); err != nil {
		a.logger.Warn("Failed to persist username", logging.F("error", err))
	}
	a.rememberEndpoint(endpoint)
	return user, nil
}

// Login authenticates with a password and persists the credentials
func (a *App) Login(ctx context.Context, endpoint, username, password string) (*types.Session, error) {
	session, err := a.session.Login(ctx, endpoint, username, password)
	if err != nil {
		return nil, err
	}
	a.rememberEndpoint(session.Endpoint)
	return session, nil
}

// Logout drops the session and the stored password
func (a *App) Logout() error {
	return a.session.Logout()
}

// Session returns the current session, restoring it from stored credentials
func (a *App) Session(ctx context.Context) (*types.Session, error) {
	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}
	return a.session.Current(), nil
}

// List returns the children of a remote folder
func (a *App) List(ctx context.Context, remotePath string) (*types.BulkMetaData, error) {
	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}
	return a.client.List(ctx, remotePath)
}

// Sync starts mirroring localDir into remoteNode in the background
func (a *App) Sync(ctx context.Context, jobID, localDir, remoteNode string, exclusions []string) error {
	return a.start(ctx, sync.Request{
		JobID:      jobID,
		LocalRoot:  localDir,
		RemoteRoot: remoteNode,
		Excludes:   exclusions,
	})
}

func (a *App) start(ctx context.Context, req sync.Request) error {
	if err := a.ensureSession(ctx); err != nil {
		return err
	}
	if err := a.controller.Start(req); err != nil {
		if errors.Is(err, sync.ErrAlreadyRunning) {
			return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAlreadyRunning, fmt.Sprintf("job %s is already running", req.JobID)).
				WithContext("jobId", req.JobID).Build(), err)
		}
		return err
	}
	return nil
}

func (a *App) Pause(jobID string) {
	a.controller.Pause(jobID)
}

// Progress reports a running job; see sync.Controller.Progress for the
// clearing contract
func (a *App) Progress(jobID string) (types.Progress, error) {
	p, err := a.controller.Progress(jobID)
	if errors.Is(err, sync.ErrNotRunning) {
		return p, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeNotRunning, fmt.Sprintf("job %s is not running", jobID)).
			WithContext("jobId", jobID).Build(), err)
	}
	return p, err
}

func (a *App) Done(jobID string) <-chan struct{} {
	return a.controller.Done(jobID)
}

func (a *App) Summary(jobID string) (sync.Summary, bool) {
	return a.controller.Summary(jobID)
}

func (a *App) Running() []string {
	return a.controller.Running()
}

func (a *App) Errors(ctx context.Context) ([]string, error) {
	return a.errs.Entries(ctx)
}

func (a *App) PopError(ctx context.Context) (string, error) {
	return a.errs.Pop(ctx)
}

func (a *App) ClearErrors(ctx context.Context) error {
	return a.errs.Clear(ctx)
}

// SaveTask creates or replaces a saved task, assigning an id when missing
func (a *App) SaveTask(ctx context.Context, task index.TaskRecord) (index.TaskRecord, error) {
	if strings.TrimSpace(task.LocalRoot) == "" || strings.TrimSpace(task.RemoteRoot) == "" {
		return task, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "local and remote roots are required").Build())
	}
	if task.RepeatInterval < 0 {
		return task, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "repeat interval must not be negative").Build())
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Ignores == nil {
		task.Ignores = []string{}
	}
	if err := a.db.UpsertTask(ctx, task); err != nil {
		return task, err
	}
	return task, nil
}

func (a *App) Tasks(ctx context.Context) ([]index.TaskRecord, error) {
	tasks, err := a.db.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []index.TaskRecord{}
	}
	return tasks, nil
}

func (a *App) Task(ctx context.Context, id string) (*index.TaskRecord, error) {
	task, err := a.db.GetTask(ctx, id)
	return task, taskError(id, err)
}

// RemoveTask stops the task if running, forgets it and drops the cached
// hashes of its local root
func (a *App) RemoveTask(ctx context.Context, id string) error {
	a.controller.Pause(id)
	task, err := a.db.GetTask(ctx, id)
	if err != nil {
		return taskError(id, err)
	}
	if err := a.db.DeleteTask(ctx, id); err != nil {
		return taskError(id, err)
	}
	pruned, err := a.db.PruneHashes(ctx, task.LocalRoot)
	if err != nil {
		a.logger.Warn("Failed to prune hash cache", logging.F("root", task.LocalRoot), logging.F("error", err))
		return nil
	}
	a.logger.Debug("Hash cache pruned", logging.F("root", task.LocalRoot), logging.F("entries", pruned))
	return nil
}

// SetTaskPaused toggles scheduled runs; pausing also stops a running job
func (a *App) SetTaskPaused(ctx context.Context, id string, paused bool) error {
	if err := a.db.SetTaskPaused(ctx, id, paused); err != nil {
		return taskError(id, err)
	}
	if paused {
		a.controller.Pause(id)
	}
	return nil
}

// StartTask runs a saved task now
func (a *App) StartTask(ctx context.Context, task index.TaskRecord) error {
	return a.start(ctx, sync.Request{
		JobID:       task.ID,
		LocalRoot:   task.LocalRoot,
		RemoteRoot:  task.RemoteRoot,
		Excludes:    task.Ignores,
		Parallelism: task.Parallelism,
	})
}

// RunScheduled re-runs saved tasks on their interval until ctx is done
func (a *App) RunScheduled(ctx context.Context) error {
	s := scheduler.New(a.db, a, scheduler.Options{
		Clock:  a.clock,
		Logger: a.logger,
		Ignore: func(err error) bool { return errors.Is(err, sync.ErrAlreadyRunning) },
	})
	return s.Run(ctx)
}

func (a *App) markSynced(jobID string, startedAt time.Time, summary sync.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.db.MarkSynced(ctx, jobID, startedAt.Unix())
	if err != nil && !errors.Is(err, index.ErrTaskNotFound) {
		a.logger.Warn("Failed to record sync time", logging.F("task", jobID), logging.F("error", err))
	}
}

// ensureSession logs in from stored credentials when this process has no session yet
func (a *App) ensureSession(ctx context.Context) error {
	if a.session.Current() != nil {
		return nil
	}
	endpoint := a.session.Endpoint()
	if endpoint == "" {
		endpoint = a.settings.Get().Endpoint
	}
	if endpoint == "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired, "not connected to a server").
			WithContext("suggestedAction", "run 'cellsync login' first").Build())
	}
	username := a.session.Username()
	if username == "" {
		stored, err := a.secrets.Username()
		if err != nil {
			return err
		}
		username = stored
	}
	a.session.Connect(endpoint, username)
	if err := a.session.Refresh(ctx); err != nil {
		return sessionError(err)
	}
	return nil
}

func (a *App) rememberEndpoint(endpoint string) {
	if a.settings.Get().Endpoint == endpoint {
		return
	}
	if err := a.settings.Update(func(c *config.Config) { c.Endpoint = endpoint }); err != nil {
		a.logger.Warn("Failed to persist endpoint", logging.F("error", err))
	}
}

func sessionError(err error) error {
	if errors.Is(err, auth.ErrNoStoredCredentials) || errors.Is(err, auth.ErrNoSession) {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired, "no stored credentials").
			WithContext("suggestedAction", "run 'cellsync login' first").Build(), err)
	}
	return err
}

func taskError(id string, err error) error {
	if errors.Is(err, index.ErrTaskNotFound) {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeNotFound, fmt.Sprintf("task %s not found", id)).
			WithContext("taskId", id).Build(), err)
	}
	return err
}
