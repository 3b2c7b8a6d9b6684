package objectstore

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dl-alexandre/cellsync/internal/errors"
)

type staticCreds struct {
	mu        sync.Mutex
	endpoint  string
	accessKey string
	secretKey string
	err       error
}

func (c *staticCreds) Endpoint() string { return c.endpoint }

func (c *staticCreds) DataPlaneCredentials() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessKey, c.secretKey, c.err
}

func (c *staticCreds) rotate(accessKey string) {
	c.mu.Lock()
	c.accessKey = accessKey
	c.mu.Unlock()
}

type recordedPut struct {
	path        string
	contentType string
	auth        string
}

type fakeS3 struct {
	mu     sync.Mutex
	puts   []recordedPut
	status int
	code   string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.puts = append(f.puts, recordedPut{
		path:        r.URL.Path,
		contentType: r.Header.Get("Content-Type"),
		auth:        r.Header.Get("Authorization"),
	})
	status, code := f.status, f.code
	f.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>refused</Message></Error>`)
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) recorded() []recordedPut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedPut(nil), f.puts...)
}

func newTestStore(t *testing.T, fake *fakeS3) (*Store, *staticCreds) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	creds := &staticCreds{endpoint: server.URL, accessKey: "access-1", secretKey: "secret-1"}
	return New(creds, Options{}), creds
}

func TestPutObject(t *testing.T) {
	fake := &fakeS3{}
	store, _ := newTestStore(t, fake)

	body := []byte("hello world")
	err := store.PutObject(context.Background(), "personal-files/docs/a.txt", bytes.NewReader(body), int64(len(body)), "text/plain")
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	puts := fake.recorded()
	if len(puts) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(puts))
	}
	if puts[0].path != "/io/personal-files/docs/a.txt" {
		t.Errorf("Path = %q, want path-style /io/...", puts[0].path)
	}
	if puts[0].contentType != "text/plain" {
		t.Errorf("Content-Type = %q", puts[0].contentType)
	}
	if !strings.Contains(puts[0].auth, "Credential=access-1/") {
		t.Errorf("Authorization %q does not carry access key", puts[0].auth)
	}
}

func TestPutObjectUsesCredentialsAtSendTime(t *testing.T) {
	fake := &fakeS3{}
	store, creds := newTestStore(t, fake)
	ctx := context.Background()

	if err := store.PutObject(ctx, "ws/a", strings.NewReader("a"), 1, ""); err != nil {
		t.Fatalf("first put: %v", err)
	}
	creds.rotate("access-2")
	if err := store.PutObject(ctx, "ws/b", strings.NewReader("b"), 1, ""); err != nil {
		t.Fatalf("second put: %v", err)
	}

	puts := fake.recorded()
	if len(puts) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(puts))
	}
	if !strings.Contains(puts[1].auth, "Credential=access-2/") {
		t.Errorf("second request signed with stale key: %q", puts[1].auth)
	}
	if puts[0].contentType != DefaultContentType {
		t.Errorf("default Content-Type = %q", puts[0].contentType)
	}
	if len(store.clients) != 1 {
		t.Errorf("Expected rotated client to replace the cached one, have %d", len(store.clients))
	}
}

func TestPutObjectClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   errors.Kind
	}{
		{"access denied", http.StatusForbidden, "AccessDenied", errors.KindAuthExpired},
		{"invalid key", http.StatusForbidden, "InvalidAccessKeyId", errors.KindAuthExpired},
		{"not implemented", http.StatusNotImplemented, "NotImplemented", errors.KindUnsupportedObject},
		{"too large", http.StatusBadRequest, "EntityTooLarge", errors.KindUnsupportedObject},
		{"no bucket", http.StatusNotFound, "NoSuchBucket", errors.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{status: tt.status, code: tt.code}
			store, _ := newTestStore(t, fake)

			err := store.PutObject(context.Background(), "ws/x", strings.NewReader("x"), 1, "")
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestPutObjectWithoutCredentials(t *testing.T) {
	store := New(&staticCreds{endpoint: "http://127.0.0.1:1", err: stderrors.New("no session")}, Options{})
	err := store.PutObject(context.Background(), "k", strings.NewReader(""), 0, "")
	if err == nil || err.Error() != "no session" {
		t.Errorf("Expected credential error, got %v", err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		secure   bool
		wantErr  bool
	}{
		{"https://cells.example.com", "cells.example.com", true, false},
		{"http://localhost:8080", "localhost:8080", false, false},
		{"ftp://cells.example.com", "", false, true},
		{"cells.example.com", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, secure, err := splitEndpoint(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if host != tt.host || secure != tt.secure {
				t.Errorf("got (%q, %v), want (%q, %v)", host, secure, tt.host, tt.secure)
			}
		})
	}
}

func TestDetectContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"sniffed png", "image.bin", png, "image/png"},
		{"extension fallback", "notes.json", []byte{0x01, 0x02, 0x03}, "application/json"},
		{"empty unknown", "blob", nil, DefaultContentType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, r, err := DetectContentType(tt.file, bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("DetectContentType: %v", err)
			}
			if ct != tt.want {
				t.Errorf("content type = %q, want %q", ct, tt.want)
			}
			rest, _ := io.ReadAll(r)
			if !bytes.Equal(rest, tt.data) {
				t.Errorf("reader lost data: %d bytes, want %d", len(rest), len(tt.data))
			}
		})
	}
}
