// Package configstore persists the single named configuration blob of
// spec §4.6 (layout mode, pane settings, focused/expanded pane). It is
// grounded on the teacher's cache package: a small Store seam with a
// file-backed implementation for local/demo use and a Redis-backed
// implementation for anything that needs to survive across processes, the
// same two-tier story the teacher tells for its own cache layer.
package configstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("configstore: key not found")

// Store is the persistence seam the coordinator saves/restores through.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// FileStore persists each key as its own JSON file under a directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// lazily on first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) pathFor(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// Save writes data for key, creating the store directory if needed and
// writing via a temp-file-plus-rename so a reader never observes a
// partially written file.
func (f *FileStore) Save(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	target := f.pathFor(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Load reads data for key, returning ErrNotFound if it was never saved.
func (f *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// RedisStore persists each key as a Redis string value, for deployments
// where the widget host runs multiple processes sharing one config blob.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials a Redis client for addr/password/db.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (r *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// DebouncedSaver coalesces rapid-fire mutations (e.g. a drag-resizing
// layout) into a single Save after delay has elapsed with no further
// Schedule calls.
type DebouncedSaver struct {
	store Store
	key   string
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending []byte
}

// NewDebouncedSaver wraps store so Schedule calls within delay collapse to
// one underlying Save.
func NewDebouncedSaver(store Store, key string, delay time.Duration) *DebouncedSaver {
	return &DebouncedSaver{store: store, key: key, delay: delay}
}

// Schedule replaces the pending payload and (re)starts the debounce timer.
func (d *DebouncedSaver) Schedule(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = data
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *DebouncedSaver) fire() {
	d.mu.Lock()
	data := d.pending
	d.mu.Unlock()
	_ = d.store.Save(context.Background(), d.key, data)
}

// Flush saves the pending payload immediately, bypassing the debounce
// delay. Used on shutdown so no mutation is lost.
func (d *DebouncedSaver) Flush() error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	data := d.pending
	d.mu.Unlock()
	if data == nil {
		return nil
	}
	return d.store.Save(context.Background(), d.key, data)
}
