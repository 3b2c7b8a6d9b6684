package errlog

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dl-alexandre/cellsync/internal/sync/index"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"index":  NewIndexStore(db),
	}
}

func TestLogOrdering(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := New(store, Options{})

			if msg, err := log.Pop(ctx); err != nil || msg != "" {
				t.Fatalf("Pop on empty log = (%q, %v)", msg, err)
			}
			entries, err := log.Entries(ctx)
			if err != nil || entries == nil || len(entries) != 0 {
				t.Fatalf("Entries on empty log = (%v, %v)", entries, err)
			}

			log.Record(ctx, "a failed")
			log.Recordf(ctx, "%s failed", "b")
			log.Record(ctx, "c failed")

			if msg, _ := log.Pop(ctx); msg != "c failed" {
				t.Errorf("Pop = %q, want newest", msg)
			}
			entries, _ = log.Entries(ctx)
			if len(entries) != 2 || entries[0] != "a failed" || entries[1] != "b failed" {
				t.Errorf("Entries = %v", entries)
			}

			if err := log.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if entries, _ := log.Entries(ctx); len(entries) != 0 {
				t.Errorf("Entries after clear = %v", entries)
			}
		})
	}
}

func TestLogNotifications(t *testing.T) {
	var enabled atomic.Bool
	var buf bytes.Buffer
	log := New(NewMemoryStore(), Options{
		Notifier:      NewWriterNotifier(&buf),
		NotifyEnabled: enabled.Load,
	})
	ctx := context.Background()

	log.Record(ctx, "quiet")
	if buf.Len() != 0 {
		t.Fatalf("notified while disabled: %q", buf.String())
	}

	enabled.Store(true)
	log.Record(ctx, "loud")
	if got := buf.String(); got != "cellsync: loud\n" {
		t.Errorf("notification = %q", got)
	}
}

func TestNotifierFunc(t *testing.T) {
	var got string
	log := New(nil, Options{
		Notifier:      NotifierFunc(func(m string) { got = m }),
		NotifyEnabled: func() bool { return true },
	})
	log.Record(context.Background(), "boom")
	if got != "boom" {
		t.Errorf("NotifierFunc got %q", got)
	}
}
