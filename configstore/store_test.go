package configstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "configs"))
	ctx := context.Background()

	if err := store.Save(ctx, "oakview.layout.v1", []byte(`{"mode":"single"}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := store.Load(ctx, "oakview.layout.v1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"mode":"single"}` {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestFileStoreLoadMissingKey(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()
	store.Save(ctx, "k", []byte("first"))
	store.Save(ctx, "k", []byte("second"))

	data, err := store.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwritten value, got %s", data)
	}
}

type memStore struct {
	saved map[string][]byte
	calls int
}

func newMemStore() *memStore { return &memStore{saved: map[string][]byte{}} }

func (m *memStore) Save(ctx context.Context, key string, data []byte) error {
	m.calls++
	m.saved[key] = data
	return nil
}

func (m *memStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.saved[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func TestDebouncedSaverCollapsesRapidSchedules(t *testing.T) {
	mem := newMemStore()
	d := NewDebouncedSaver(mem, "k", 20*time.Millisecond)

	d.Schedule([]byte("a"))
	d.Schedule([]byte("b"))
	d.Schedule([]byte("c"))

	time.Sleep(60 * time.Millisecond)

	if mem.calls != 1 {
		t.Fatalf("expected exactly 1 underlying save, got %d", mem.calls)
	}
	if string(mem.saved["k"]) != "c" {
		t.Fatalf("expected latest payload saved, got %s", mem.saved["k"])
	}
}

func TestDebouncedSaverFlush(t *testing.T) {
	mem := newMemStore()
	d := NewDebouncedSaver(mem, "k", time.Hour)

	d.Schedule([]byte("final"))
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if mem.calls != 1 || string(mem.saved["k"]) != "final" {
		t.Fatalf("expected immediate flush save, got calls=%d data=%s", mem.calls, mem.saved["k"])
	}
}
