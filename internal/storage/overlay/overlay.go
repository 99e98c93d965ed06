package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/pkg/cmap"
)

// Backing is the storage surface overlays depend on.
// *storage.Manager implements it.
type Backing interface {
	Store(ctx context.Context, key string, data []byte, meta domain.Metadata, opts ...storage.StoreOption) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Subscribe(fn func(storage.Change)) (cancel func())
	BasePath() string
}

// Option configures an overlay store.
type Option func(*options)

type options struct {
	invalidate bool
	logger     *slog.Logger
}

// WithInvalidation evicts cached values when the underlying key is
// written or deleted through any path.
func WithInvalidation() Option {
	return func(o *options) { o.invalidate = true }
}

// WithLogger sets the overlay logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// kind describes one overlay's key space and storage attributes.
type kind[T any] struct {
	prefix      string
	mirrorDir   string
	contentType domain.ContentType
	tag         string
	ttl         time.Duration
	id          func(*T) string
	validate    func(*T) error
}

// typed is the shared implementation behind the overlay stores.
type typed[T any] struct {
	kind    kind[T]
	backing Backing
	cache   *cmap.Map[string, []byte]
	logger  *slog.Logger
	cancel  func()
}

func newTyped[T any](b Backing, k kind[T], opts []Option) *typed[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &typed[T]{
		kind:    k,
		backing: b,
		cache:   cmap.New[string, []byte](),
		logger:  o.logger.With("component", "overlay", "overlay", k.prefix),
		cancel:  func() {},
	}
	if o.invalidate {
		t.cancel = b.Subscribe(t.onChange)
	}
	return t
}

func (t *typed[T]) key(id string) string {
	return t.kind.prefix + id
}

func (t *typed[T]) onChange(c storage.Change) {
	id, ok := strings.CutPrefix(c.Key, t.kind.prefix)
	if !ok {
		return
	}
	t.cache.Delete(id)
}

func (t *typed[T]) store(ctx context.Context, v *T) error {
	if err := t.kind.validate(v); err != nil {
		return err
	}
	id := t.kind.id(v)

	data, err := json.Marshal(v)
	if err != nil {
		return domain.ErrSerialization.WithCause(err)
	}

	meta := domain.NewMetadata(t.kind.contentType, t.kind.ttl, t.kind.tag)
	if err := t.backing.Store(ctx, t.key(id), data, meta); err != nil {
		return err
	}
	t.cache.Set(id, data)
	t.writeMirror(id, data)
	return nil
}

// retrieve returns the value for id, or nil when absent.
func (t *typed[T]) retrieve(ctx context.Context, id string) (*T, error) {
	if data, ok := t.cache.Get(id); ok {
		return t.decode(data)
	}

	data, err := t.backing.Load(ctx, t.key(id))
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	v, err := t.decode(data)
	if err != nil {
		return nil, err
	}
	t.cache.Set(id, data)
	return v, nil
}

func (t *typed[T]) delete(ctx context.Context, id string) (bool, error) {
	removed, err := t.backing.Delete(ctx, t.key(id))
	if err != nil {
		return false, err
	}
	_, cached := t.cache.Pop(id)
	t.removeMirror(id)
	return removed || cached, nil
}

// list decodes every cached value, sorted by id.
func (t *typed[T]) list() ([]*T, error) {
	ids := t.cache.Keys()
	sort.Strings(ids)

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		data, ok := t.cache.Get(id)
		if !ok {
			continue
		}
		v, err := t.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *typed[T]) decode(data []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, domain.ErrSerialization.WithCause(fmt.Errorf("decode %s: %w", t.kind.prefix, err))
	}
	return v, nil
}

func (t *typed[T]) mirrorPath(id string) string {
	return filepath.Join(t.backing.BasePath(), t.kind.mirrorDir, url.PathEscape(id)+".json")
}

// writeMirror keeps a readable copy next to the store for backups.
// Failures are logged; the stored entry is authoritative.
func (t *typed[T]) writeMirror(id string, data []byte) {
	path := t.mirrorPath(id)
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		t.logger.Warn("write mirror failed", "id", id, "error", err)
		return
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp)
		t.logger.Warn("write mirror failed", "id", id, "error", errors.Join(werr, cerr))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		t.logger.Warn("write mirror failed", "id", id, "error", err)
	}
}

func (t *typed[T]) removeMirror(id string) {
	if err := os.Remove(t.mirrorPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("remove mirror failed", "id", id, "error", err)
	}
}

func (t *typed[T]) close() {
	t.cancel()
}
