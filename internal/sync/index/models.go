package index

import "time"

type TaskRecord struct {
	ID          string   `json:"id"`
	LocalRoot   string   `json:"localRoot"`
	RemoteRoot  string   `json:"remoteRoot"`
	Ignores     []string `json:"ignores"`
	Parallelism int      `json:"parallelism,omitempty"`
	// RepeatInterval in seconds, 0 disables scheduled runs
	RepeatInterval int64 `json:"repeatInterval"`
	Paused         bool  `json:"paused"`
	LastSyncTime   int64 `json:"lastSyncTime"`
}

// Interval returns the repeat interval as a duration
func (t TaskRecord) Interval() time.Duration {
	return time.Duration(t.RepeatInterval) * time.Second
}

// Due reports whether a scheduled run should start at now
func (t TaskRecord) Due(now time.Time) bool {
	if t.Paused || t.RepeatInterval <= 0 {
		return false
	}
	if t.LastSyncTime == 0 {
		return true
	}
	return !now.Before(time.Unix(t.LastSyncTime, 0).Add(t.Interval()))
}

type HashEntry struct {
	Path string
	Size int64
	// MTime is in nanoseconds; second resolution lets a same-size edit
	// inside one second reuse the old digest.
	MTime int64
	MD5   string
}

type ErrorEntry struct {
	Seq       int64
	Message   string
	CreatedAt int64
}
