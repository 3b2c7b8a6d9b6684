package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDebugTransport_LogsRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: DEBUG, RedactSensitive: true})
	client := &http.Client{Transport: NewDebugTransport(nil, logger)}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/a/user/admin?X-Amz-Signature=deadbeef", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	output := buf.String()
	if !strings.Contains(output, "status=418") {
		t.Errorf("Expected status in output, got %q", output)
	}
	if strings.Contains(output, "deadbeef") || strings.Contains(output, "secret-token") {
		t.Errorf("Sensitive data leaked: %q", output)
	}
}

func TestDebugTransport_WrapNil(t *testing.T) {
	var dt *DebugTransport
	if got := dt.Wrap(http.DefaultTransport); got != http.DefaultTransport {
		t.Errorf("nil DebugTransport.Wrap() = %v, want base transport", got)
	}
}
