package config

import (
	"sync"
	"testing"
)

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore(nil)

	snapshot := store.Get()
	before := len(snapshot.GlobalIgnores)
	snapshot.GlobalIgnores = append(snapshot.GlobalIgnores, ".git")
	snapshot.Parallelism = 1

	again := store.Get()
	if len(again.GlobalIgnores) != before || again.Parallelism != 8 {
		t.Errorf("Mutating a snapshot leaked into the store: %+v", again)
	}
}

func TestStoreUpdateValidates(t *testing.T) {
	store := NewMemoryStore(nil)

	if err := store.Update(func(c *Config) { c.Parallelism = -5 }); err == nil {
		t.Fatal("Expected validation error")
	}
	if got := store.Get().Parallelism; got != 8 {
		t.Errorf("Rejected update was applied, parallelism = %d", got)
	}

	if err := store.Update(func(c *Config) { c.GlobalIgnores = []string{"node_modules"} }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := store.Get().GlobalIgnores; len(got) != 1 || got[0] != "node_modules" {
		t.Errorf("GlobalIgnores = %v", got)
	}
}

func TestStoreUpdatePersists(t *testing.T) {
	useMemFs(t)

	store := NewStore(DefaultConfig())
	if err := store.Update(func(c *Config) { c.NotifyOnFailure = true }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.NotifyOnFailure {
		t.Error("Expected persisted NotifyOnFailure")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(nil)
	var wg sync.WaitGroup
	for i := 1; i <= 16; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = store.Update(func(c *Config) { c.Parallelism = n })
		}(i)
		go func() {
			defer wg.Done()
			_ = store.Get()
		}()
	}
	wg.Wait()

	if p := store.Get().Parallelism; p < 1 || p > 16 {
		t.Errorf("Unexpected parallelism after concurrent updates: %d", p)
	}
}
