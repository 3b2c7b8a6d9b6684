package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	tokenRefreshBuffer = 30 * time.Second
	refreshTimeout     = 60 * time.Second
)

var (
	// ErrNoSession is returned when no login happened yet
	ErrNoSession = errors.New("no active session")
	// ErrNoStoredCredentials is returned by Refresh when no username/password is stored
	ErrNoStoredCredentials = errors.New("no stored credentials")
)

// Authenticator exchanges a login/password pair for a session
type Authenticator interface {
	CreateSession(ctx context.Context, endpoint, login, password string) (*types.Session, error)
}

// Manager owns the process-wide session
type Manager struct {
	mu       sync.RWMutex
	session  *types.Session
	endpoint string
	username string

	secrets Secrets
	authn   Authenticator
	group   singleflight.Group
	clock   clockwork.Clock
	logger  logging.Logger
}

// ManagerOptions configures the session manager
type ManagerOptions struct {
	Clock  clockwork.Clock
	Logger logging.Logger
}

// NewManager creates a session manager backed by secrets
func NewManager(secrets Secrets, opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Manager{
		secrets: secrets,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// SetAuthenticator installs the login call; the metadata client depends on
// the manager for tokens, so it is wired after construction
func (m *Manager) SetAuthenticator(a Authenticator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authn = a
}

// NormalizeEndpoint trims whitespace and trailing slashes
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// Connect records the endpoint and user without logging in
func (m *Manager) Connect(endpoint, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint = NormalizeEndpoint(endpoint)
	m.username = username
}

// UseToken installs a personal access token as a non-expiring session.
// Refresh is not possible for such a session unless a password is stored.
func (m *Manager) UseToken(endpoint, username, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint = NormalizeEndpoint(endpoint)
	m.username = username
	m.session = &types.Session{
		Endpoint: m.endpoint,
		Login:    username,
		JWT:      token,
	}
}

// Login authenticates, stores the session and persists the credentials
func (m *Manager) Login(ctx context.Context, endpoint, username, password string) (*types.Session, error) {
	endpoint = NormalizeEndpoint(endpoint)
	if endpoint == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "endpoint is required").Build())
	}

	session, err := m.authenticate(ctx, endpoint, username, password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.endpoint = endpoint
	m.username = username
	m.session = session
	m.mu.Unlock()

	if err := m.secrets.SetUsername(username); err != nil {
		m.logger.Warn("Failed to persist username", logging.F("error", err))
	}
	if err := m.secrets.SetPassword(password); err != nil {
		m.logger.Warn("Failed to persist password", logging.F("error", err))
	}

	m.logger.Info("Logged in", logging.F("endpoint", endpoint), logging.F("user", username))
	return cloneSession(session), nil
}

func (m *Manager) authenticate(ctx context.Context, endpoint, username, password string) (*types.Session, error) {
	m.mu.RLock()
	authn := m.authn
	m.mu.RUnlock()
	if authn == nil {
		return nil, fmt.Errorf("session manager has no authenticator")
	}

	session, err := authn.CreateSession(ctx, endpoint, username, password)
	if err != nil {
		return nil, err
	}
	session.Endpoint = endpoint
	session.Login = username
	return session, nil
}

// Refresh logs in again with the stored credentials and swaps the session.
// Concurrent callers share a single login.
func (m *Manager) Refresh(ctx context.Context) error {
	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, m.refresh(rctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.RLock()
	endpoint, username := m.endpoint, m.username
	m.mu.RUnlock()

	if endpoint == "" {
		return ErrNoSession
	}
	if username == "" {
		stored, err := m.secrets.Username()
		if err != nil {
			return err
		}
		username = stored
	}
	password, err := m.secrets.Password()
	if err != nil {
		return err
	}
	if username == "" || password == "" {
		return ErrNoStoredCredentials
	}

	session, err := m.authenticate(ctx, endpoint, username, password)
	if err != nil {
		m.logger.Warn("Session refresh failed", logging.F("endpoint", endpoint), logging.F("error", err))
		return fmt.Errorf("refresh session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.username = username
	m.mu.Unlock()

	m.logger.Debug("Session refreshed", logging.F("endpoint", endpoint), logging.F("expiresAt", session.ExpiresAt))
	return nil
}

// Logout drops the session and the stored password
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return m.secrets.DeletePassword()
}

// Current returns a copy of the session, or nil
func (m *Manager) Current() *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSession(m.session)
}

// Endpoint returns the endpoint of the last connect or login
func (m *Manager) Endpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint
}

// Username returns the user of the last connect or login
func (m *Manager) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.username
}

// NeedsRefresh reports whether the session is missing or about to expire
func (m *Manager) NeedsRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return true
	}
	return m.session.Expired(m.clock.Now().Add(tokenRefreshBuffer))
}

// Token implements oauth2.TokenSource with the metadata bearer token
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.JWT == "" {
		return nil, ErrNoSession
	}
	return &oauth2.Token{
		AccessToken: m.session.JWT,
		TokenType:   "Bearer",
		Expiry:      m.session.ExpiresAt,
	}, nil
}

// DataPlaneCredentials returns the S3 key pair valid right now
func (m *Manager) DataPlaneCredentials() (accessKey, secretKey string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", "", ErrNoSession
	}
	accessKey, secretKey = m.session.AccessToken, m.session.IDToken
	if accessKey == "" {
		// no token bundle: the S3 gateway accepts the JWT with its fixed secret
		accessKey, secretKey = m.session.JWT, utils.GatewaySecret
	}
	return accessKey, secretKey, nil
}

func cloneSession(s *types.Session) *types.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
