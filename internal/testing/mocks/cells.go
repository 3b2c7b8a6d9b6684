package mocks

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dl-alexandre/cellsync/internal/types"
)

// MockMetadata serves BulkGet from an in-memory node table
type MockMetadata struct {
	mu    sync.Mutex
	nodes map[string]types.Node
	calls [][]string

	// Err, when set, fails every lookup
	Err error
	// BulkGetFunc overrides the table lookup
	BulkGetFunc func(paths []string) (*types.BulkMetaData, error)
}

// NewMockMetadata creates a metadata mock holding nodes
func NewMockMetadata(nodes ...types.Node) *MockMetadata {
	m := &MockMetadata{nodes: make(map[string]types.Node)}
	for _, n := range nodes {
		m.SetNode(n)
	}
	return m
}

// SetNode adds or replaces a node
func (m *MockMetadata) SetNode(n types.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.Key()] = n
}

// BulkGet returns the known nodes among paths
func (m *MockMetadata) BulkGet(ctx context.Context, paths []string) (*types.BulkMetaData, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), paths...))
	fn, err := m.BulkGetFunc, m.Err
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(paths)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := &types.BulkMetaData{Nodes: []types.Node{}}
	for _, p := range paths {
		if n, ok := m.nodes[strings.Trim(p, "/")]; ok {
			out.Nodes = append(out.Nodes, n)
		}
	}
	return out, nil
}

// Calls returns the path lists of every BulkGet call
func (m *MockMetadata) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// PutCall records one PutObject
type PutCall struct {
	Key         string
	ContentType string
	Size        int64
	Body        []byte
}

// MockObjectStore records uploads and replays scripted failures
type MockObjectStore struct {
	mu        sync.Mutex
	calls     []PutCall
	responses map[string][]error

	// Block, when set, holds every upload until closed or ctx is done
	Block chan struct{}
	// Started receives the key of each upload as it begins, if set
	Started chan string
}

// NewMockObjectStore creates an object store mock that accepts everything
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{responses: make(map[string][]error)}
}

// FailWith queues errors returned by the next uploads of key, in order
func (m *MockObjectStore) FailWith(key string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = append(m.responses[key], errs...)
}

// PutObject consumes body and returns the next scripted error for key
func (m *MockObjectStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if m.Started != nil {
		select {
		case m.Started <- key:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if queued := m.responses[key]; len(queued) > 0 {
		m.responses[key] = queued[1:]
		if queued[0] != nil {
			return queued[0]
		}
	}
	m.calls = append(m.calls, PutCall{Key: key, ContentType: contentType, Size: size, Body: data})
	return nil
}

// Calls returns the successful uploads
func (m *MockObjectStore) Calls() []PutCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PutCall(nil), m.calls...)
}

// Keys returns the keys of successful uploads
func (m *MockObjectStore) Keys() []string {
	calls := m.Calls()
	keys := make([]string, len(calls))
	for i, c := range calls {
		keys[i] = c.Key
	}
	return keys
}

// MockSession counts refreshes and hands out fixed credentials
type MockSession struct {
	EndpointURL string
	AccessKey   string
	SecretKey   string
	RefreshFunc func(ctx context.Context) error

	refreshes atomic.Int32
}

// Refresh records the call and runs RefreshFunc
func (m *MockSession) Refresh(ctx context.Context) error {
	m.refreshes.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return nil
}

// Refreshes returns the number of Refresh calls
func (m *MockSession) Refreshes() int {
	return int(m.refreshes.Load())
}

func (m *MockSession) Endpoint() string {
	return m.EndpointURL
}

func (m *MockSession) DataPlaneCredentials() (string, string, error) {
	return m.AccessKey, m.SecretKey, nil
}
