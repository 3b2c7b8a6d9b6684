package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/jonboulle/clockwork"
)

type fakeAuthenticator struct {
	calls   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
	err     error
	now     func() time.Time
}

func (f *fakeAuthenticator) CreateSession(ctx context.Context, endpoint, login, password string) (*types.Session, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if password != "pw" {
		return nil, errors.New("bad credentials")
	}
	now := time.Now()
	if f.now != nil {
		now = f.now()
	}
	return &types.Session{
		JWT:         "jwt-" + string(rune('0'+n)),
		AccessToken: "ak",
		IDToken:     "sk",
		ExpiresAt:   now.Add(10 * time.Minute),
	}, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeAuthenticator, *SecretStore) {
	t.Helper()
	secrets := NewSecretStoreWithBackend(NewPlainFileStorage(t.TempDir()))
	mgr := NewManager(secrets, ManagerOptions{})
	authn := &fakeAuthenticator{}
	mgr.SetAuthenticator(authn)
	return mgr, authn, secrets
}

func TestManager_Login(t *testing.T) {
	mgr, _, secrets := newTestManager(t)

	session, err := mgr.Login(context.Background(), "https://cells.example.com/", "admin", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Endpoint != "https://cells.example.com" {
		t.Errorf("Session endpoint = %q, want trailing slash trimmed", session.Endpoint)
	}
	if mgr.Endpoint() != "https://cells.example.com" || mgr.Username() != "admin" {
		t.Errorf("Manager state = %q/%q", mgr.Endpoint(), mgr.Username())
	}
	if u, _ := secrets.Username(); u != "admin" {
		t.Errorf("Stored username = %q", u)
	}
	if p, _ := secrets.Password(); p != "pw" {
		t.Errorf("Stored password = %q", p)
	}

	tok, err := mgr.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != session.JWT || tok.TokenType != "Bearer" {
		t.Errorf("Token() = %+v", tok)
	}
}

func TestManager_LoginFailureKeepsState(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "wrong"); err == nil {
		t.Fatal("Expected login failure")
	}
	if mgr.Current() != nil {
		t.Error("Failed login must not install a session")
	}
	if _, err := mgr.Token(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Token() error = %v, want ErrNoSession", err)
	}
}

func TestManager_RefreshUsesStoredCredentials(t *testing.T) {
	mgr, authn, _ := newTestManager(t)

	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "pw"); err != nil {
		t.Fatal(err)
	}
	before := mgr.Current().JWT

	if err := mgr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if authn.calls.Load() != 2 {
		t.Errorf("CreateSession calls = %d, want 2", authn.calls.Load())
	}
	if mgr.Current().JWT == before {
		t.Error("Refresh did not replace the session")
	}
}

func TestManager_RefreshWithoutCredentials(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	if err := mgr.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Refresh() without endpoint error = %v, want ErrNoSession", err)
	}

	mgr.Connect("https://cells.example.com", "admin")
	if err := mgr.Refresh(context.Background()); !errors.Is(err, ErrNoStoredCredentials) {
		t.Errorf("Refresh() without password error = %v, want ErrNoStoredCredentials", err)
	}
}

func TestManager_ConcurrentRefreshCoalesced(t *testing.T) {
	mgr, authn, _ := newTestManager(t)
	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "pw"); err != nil {
		t.Fatal(err)
	}
	authn.calls.Store(0)
	authn.gate = make(chan struct{})
	authn.entered = make(chan struct{}, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mgr.Refresh(context.Background())
		}()
	}

	<-authn.entered
	time.Sleep(50 * time.Millisecond)
	close(authn.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Refresh() error = %v", err)
		}
	}
	if got := authn.calls.Load(); got != 1 {
		t.Errorf("CreateSession calls = %d, want 1 shared login", got)
	}
}

func TestManager_RefreshHonoursCallerContext(t *testing.T) {
	mgr, authn, _ := newTestManager(t)
	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "pw"); err != nil {
		t.Fatal(err)
	}
	authn.gate = make(chan struct{})
	t.Cleanup(func() { close(authn.gate) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mgr.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Refresh() error = %v, want context.Canceled", err)
	}
}

func TestManager_NeedsRefresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	secrets := NewSecretStoreWithBackend(NewPlainFileStorage(t.TempDir()))
	mgr := NewManager(secrets, ManagerOptions{Clock: clock})
	mgr.SetAuthenticator(&fakeAuthenticator{now: clock.Now})

	if !mgr.NeedsRefresh() {
		t.Error("NeedsRefresh() without session = false")
	}
	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "pw"); err != nil {
		t.Fatal(err)
	}
	if mgr.NeedsRefresh() {
		t.Error("Fresh session should not need a refresh")
	}
	clock.Advance(9*time.Minute + 45*time.Second)
	if !mgr.NeedsRefresh() {
		t.Error("Session within the refresh buffer should need a refresh")
	}
}

func TestManager_DataPlaneCredentials(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	if _, _, err := mgr.DataPlaneCredentials(); !errors.Is(err, ErrNoSession) {
		t.Errorf("DataPlaneCredentials() error = %v, want ErrNoSession", err)
	}
	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "pw"); err != nil {
		t.Fatal(err)
	}
	ak, sk, err := mgr.DataPlaneCredentials()
	if err != nil || ak != "ak" || sk != "sk" {
		t.Errorf("DataPlaneCredentials() = %q, %q, %v", ak, sk, err)
	}
}

func TestManager_Logout(t *testing.T) {
	mgr, _, secrets := newTestManager(t)
	if _, err := mgr.Login(context.Background(), "https://cells.example.com", "admin", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if mgr.Current() != nil {
		t.Error("Session survived logout")
	}
	if p, _ := secrets.Password(); p != "" {
		t.Errorf("Password survived logout: %q", p)
	}
	if u, _ := secrets.Username(); u != "admin" {
		t.Errorf("Username should be kept after logout, got %q", u)
	}
}

func TestManager_UseToken(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	mgr.UseToken("https://cells.example.com/", "Admin", "pat-123")

	tok, err := mgr.Token()
	if err != nil || tok.AccessToken != "pat-123" {
		t.Fatalf("Token() = %+v, %v", tok, err)
	}
	if mgr.NeedsRefresh() {
		t.Error("A personal access token never expires")
	}
	if mgr.Endpoint() != "https://cells.example.com" {
		t.Errorf("Endpoint() = %q", mgr.Endpoint())
	}
}
