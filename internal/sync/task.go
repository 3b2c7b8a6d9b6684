package sync

import (
	"errors"
	"strconv"

	"github.com/dl-alexandre/cellsync/internal/sync/scanner"
)

var (
	ErrAlreadyRunning = errors.New("sync job already running")
	ErrNotRunning     = errors.New("sync job not running")
)

// Request starts a sync job
type Request struct {
	JobID      string
	LocalRoot  string
	RemoteRoot string
	Excludes   []string
	// Parallelism 0 falls back to settings
	Parallelism int
}

// Task is one file to mirror
type Task struct {
	Source       string
	Key          string
	RelativePath string
	Size         int64
	ModTime      int64 // unix nanoseconds
	Attempt      int
}

func taskFromEntry(e scanner.LocalEntry) Task {
	return Task{
		Source:       e.AbsPath,
		Key:          e.Key,
		RelativePath: e.RelativePath,
		Size:         e.Size,
		ModTime:      e.ModTime,
	}
}

// Summary counts the outcomes of one run
type Summary struct {
	Total       int    `json:"total"`
	Uploaded    int    `json:"uploaded"`
	Skipped     int    `json:"skipped"`
	Unsupported int    `json:"unsupported"`
	Failed      int    `json:"failed"`
	Cancelled   bool   `json:"cancelled"`
	Error       string `json:"error,omitempty"`
}

func (s *Summary) add(o Summary) {
	s.Uploaded += o.Uploaded
	s.Skipped += o.Skipped
	s.Unsupported += o.Unsupported
	s.Failed += o.Failed
}

func (s Summary) Headers() []string {
	return []string{"Total", "Uploaded", "Skipped", "Unsupported", "Failed", "Cancelled"}
}

func (s Summary) Rows() [][]string {
	return [][]string{{
		strconv.Itoa(s.Total),
		strconv.Itoa(s.Uploaded),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Unsupported),
		strconv.Itoa(s.Failed),
		strconv.FormatBool(s.Cancelled),
	}}
}

func (s Summary) EmptyMessage() string {
	return "Nothing to sync"
}
