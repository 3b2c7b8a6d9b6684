package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/dl-alexandre/cellsync/internal/errors"
	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/dl-alexandre/cellsync/pkg/version"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// CredentialSource yields the data-plane key pair valid at call time
type CredentialSource interface {
	Endpoint() string
	DataPlaneCredentials() (accessKey, secretKey string, err error)
}

// Options configures the object store
type Options struct {
	Bucket    string
	Region    string
	Transport http.RoundTripper
	Logger    logging.Logger
}

type cachedClient struct {
	accessKey string
	client    *minio.Client
}

// Store uploads objects to the S3 gateway of the connected server
type Store struct {
	creds     CredentialSource
	bucket    string
	region    string
	transport http.RoundTripper
	logger    logging.Logger

	mu      sync.RWMutex
	clients map[string]cachedClient
}

// New creates an object store reading credentials from creds on every call
func New(creds CredentialSource, opts Options) *Store {
	if opts.Bucket == "" {
		opts.Bucket = utils.DataBucket
	}
	if opts.Region == "" {
		opts.Region = utils.S3Region
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Store{
		creds:     creds,
		bucket:    opts.Bucket,
		region:    opts.Region,
		transport: opts.Transport,
		logger:    opts.Logger,
		clients:   make(map[string]cachedClient),
	}
}

// Bucket returns the target bucket name
func (s *Store) Bucket() string {
	return s.bucket
}

// PutObject streams body to key. Errors are classified with errors.ClassifyObjectError.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	info, err := client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errors.ClassifyObjectError("put "+key, err)
	}
	s.logger.Debug("Object stored",
		logging.F("key", key),
		logging.F("size", info.Size),
		logging.F("etag", info.ETag),
	)
	return nil
}

// client returns a client for the current endpoint and key pair. A rotated
// access key replaces the cached client of that host.
func (s *Store) client() (*minio.Client, error) {
	accessKey, secretKey, err := s.creds.DataPlaneCredentials()
	if err != nil {
		return nil, err
	}
	host, secure, err := splitEndpoint(s.creds.Endpoint())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.clients[host]
	s.mu.RUnlock()
	if ok && cached.accessKey == accessKey {
		return cached.client, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.clients[host]; ok && cached.accessKey == accessKey {
		return cached.client, nil
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       secure,
		Region:       s.region,
		BucketLookup: minio.BucketLookupPath,
		Transport:    s.transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client for %s: %w", host, err)
	}
	v := version.Get()
	client.SetAppInfo(utils.AppID, v.Version)

	s.clients[host] = cachedClient{accessKey: accessKey, client: client}
	s.logger.Debug("Object client created", logging.F("host", host), logging.F("secure", secure))
	return client, nil
}

func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("no endpoint configured")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
}
