package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" || info.GitCommit == "" || info.BuildTime == "" {
		t.Errorf("Get() = %+v, want every field set", info)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %q", info.Platform)
	}
}

func TestInfoStrings(t *testing.T) {
	info := &Info{Version: "1.2.0", GitCommit: "abc1234", BuildTime: "2026-01-02", GoVersion: "go1.24", Platform: "linux/amd64"}

	if got, want := info.UserAgent(), "cellsync/1.2.0 (linux/amd64)"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
	if got := info.String(); !strings.HasPrefix(got, "cellsync 1.2.0 (abc1234)") {
		t.Errorf("String() = %q", got)
	}

	info.Modified = true
	if got := info.String(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("String() = %q, want dirty marker", got)
	}
}
