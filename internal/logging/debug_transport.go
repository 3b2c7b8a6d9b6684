package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs method, URL, status and latency of every request.
// Headers and bodies are never logged.
type DebugTransport struct {
	Base   http.RoundTripper
	Logger Logger
}

func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{Base: base, Logger: logger}
}

// Wrap returns a DebugTransport around base that shares this transport's logger
func (t *DebugTransport) Wrap(base http.RoundTripper) http.RoundTripper {
	if t == nil {
		return base
	}
	return NewDebugTransport(base, t.Logger)
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := t.Logger.WithContext(req.Context())
	start := time.Now()
	logger.Debug("HTTP request",
		F("method", req.Method),
		F("url", redactSensitiveData(req.URL.Redacted())),
		F("contentLength", req.ContentLength),
	)

	resp, err := t.Base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Debug("HTTP request failed",
			F("method", req.Method),
			F("url", redactSensitiveData(req.URL.Redacted())),
			F("duration", elapsed.String()),
			F("error", err.Error()),
		)
		return nil, err
	}

	logger.Debug("HTTP response",
		F("method", req.Method),
		F("url", redactSensitiveData(req.URL.Redacted())),
		F("status", resp.StatusCode),
		F("duration", elapsed.String()),
	)
	return resp, nil
}
