package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
)

// tmpPrefix marks in-flight writes; escaped keys never start with a dot.
const tmpPrefix = ".tmp-"

// fileBackend stores one envelope per file under dir.
type fileBackend struct {
	dir  string
	sync bool
	sem  *semaphore.Weighted
}

func newFileBackend(dir string, syncWrites bool, maxIO int) (*fileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.ErrFileSystem.WithCause(err)
	}

	// Leftovers from writes interrupted by a crash.
	matches, _ := filepath.Glob(filepath.Join(dir, tmpPrefix+"*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}

	return &fileBackend{
		dir:  dir,
		sync: syncWrites,
		sem:  semaphore.NewWeighted(int64(maxIO)),
	}, nil
}

// escapeKey maps a key to a file name.
func escapeKey(key string) string {
	name := url.PathEscape(key)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return name
}

func unescapeKey(name string) (string, error) {
	return url.PathUnescape(name)
}

func (b *fileBackend) path(key string) string {
	return filepath.Join(b.dir, escapeKey(key))
}

func (b *fileBackend) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return domain.ErrFileSystem.WithCause(err)
	}
	return nil
}

func (b *fileBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.sem.Release(1)

	f, err := os.CreateTemp(b.dir, tmpPrefix+"*")
	if err != nil {
		return domain.ErrFileSystem.WithCause(err)
	}
	tmpPath := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	if _, err := f.Write(value); err != nil {
		cleanup()
		return domain.ErrFileSystem.WithCause(fmt.Errorf("write %s: %w", key, err))
	}
	if b.sync {
		if err := f.Sync(); err != nil {
			cleanup()
			return domain.ErrFileSystem.WithCause(fmt.Errorf("sync %s: %w", key, err))
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.ErrFileSystem.WithCause(err)
	}

	if err := os.Rename(tmpPath, b.path(key)); err != nil {
		os.Remove(tmpPath)
		return domain.ErrFileSystem.WithCause(fmt.Errorf("rename %s: %w", key, err))
	}
	return nil
}

func (b *fileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, domain.ErrFileSystem.WithCause(err)
	}
	return data, nil
}

func (b *fileBackend) Delete(ctx context.Context, key string) (bool, error) {
	if err := b.acquire(ctx); err != nil {
		return false, err
	}
	defer b.sem.Release(1)

	if err := os.Remove(b.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, domain.ErrFileSystem.WithCause(err)
	}
	return true, nil
}

func (b *fileBackend) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, domain.ErrFileSystem.WithCause(err)
	}

	keys := make([]string, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		key, err := unescapeKey(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (b *fileBackend) Close() error {
	return nil
}
