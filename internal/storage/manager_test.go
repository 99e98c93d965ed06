package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage/backup"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxSizeGB = 1
	cfg.CompressionEnabled = false
	cfg.CleanupEnabled = false
	cfg.Logger = logger.Discard()
	return cfg
}

func openManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpen_CreatesLayout(t *testing.T) {
	cfg := testConfig(t)
	openManager(t, cfg)

	for _, dir := range []string{CacheDir, SessionsDir, WorkflowsDir, BackupsDir} {
		info, err := os.Stat(filepath.Join(cfg.BasePath, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s missing: %v", dir, err)
		}
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no base path", func(c *Config) { c.BasePath = "" }},
		{"unknown backend", func(c *Config) { c.Backend = "cassandra" }},
		{"unknown codec", func(c *Config) { c.CompressionAlgorithm = "brotli" }},
		{"negative unused", func(c *Config) { c.UnusedAfter = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := Open(context.Background(), cfg); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Open() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestManager_BasicLifecycle(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	if err := m.Store(ctx, "a", []byte("hello"), domain.Metadata{}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	e, err := m.Retrieve(ctx, "a")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if e == nil || string(e.Data) != "hello" {
		t.Fatalf("Retrieve() = %+v, want data hello", e)
	}

	removed, err := m.Delete(ctx, "a")
	if err != nil || !removed {
		t.Fatalf("Delete() = %v, %v; want true, nil", removed, err)
	}

	e, err = m.Retrieve(ctx, "a")
	if err != nil || e != nil {
		t.Errorf("Retrieve() after delete = %+v, %v; want nil, nil", e, err)
	}

	removed, err = m.Delete(ctx, "a")
	if err != nil || removed {
		t.Errorf("second Delete() = %v, %v; want false, nil", removed, err)
	}
}

func TestManager_StoreRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	payloads := map[string][]byte{
		"empty":         {},
		"binary":        {0, 1, 2, 255, 254},
		"knowledge:k-1": []byte(strings.Repeat("insight ", 100)),
	}
	for key, data := range payloads {
		meta := domain.NewMetadata(domain.ContentKnowledge, 0, "t1")
		if err := m.Store(ctx, key, data, meta); err != nil {
			t.Fatalf("Store(%q) error = %v", key, err)
		}
	}

	for key, want := range payloads {
		t.Run(key, func(t *testing.T) {
			e, err := m.Retrieve(ctx, key)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if !bytes.Equal(e.Data, want) {
				t.Errorf("Data = %q, want %q", e.Data, want)
			}
			if e.Metadata.SizeBytes != int64(len(want)) {
				t.Errorf("SizeBytes = %d, want %d", e.Metadata.SizeBytes, len(want))
			}
			if len(e.Checksum) != 32 {
				t.Errorf("len(Checksum) = %d, want 32", len(e.Checksum))
			}
			if e.Metadata.ContentType != domain.ContentKnowledge {
				t.Errorf("ContentType = %s", e.Metadata.ContentType)
			}
		})
	}

	if got := m.ListKeys(ctx); len(got) != 3 || got[0] != "binary" {
		t.Errorf("ListKeys() = %v", got)
	}
}

func TestManager_RetrieveReturnsClone(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))
	m.Store(ctx, "k", []byte("abc"), domain.Metadata{})

	e, _ := m.Retrieve(ctx, "k")
	e.Data[0] = 'X'
	e.Metadata.AddTag("mutated")

	again, _ := m.Retrieve(ctx, "k")
	if string(again.Data) != "abc" || again.Metadata.HasTag("mutated") {
		t.Errorf("caller mutation leaked into the store: %+v", again)
	}
}

func TestManager_InvalidKey(t *testing.T) {
	m := openManager(t, testConfig(t))
	for _, key := range []string{"", "a/b", "nul\x00", ".."} {
		if err := m.Store(context.Background(), key, []byte("x"), domain.Metadata{}); !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("Store(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestManager_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	meta := domain.NewMetadata(domain.ContentDecision, time.Hour, "adr")
	if err := m.Store(ctx, "decision:1", []byte("use badger"), meta); err != nil {
		t.Fatal(err)
	}
	m.Close()

	m2 := openManager(t, cfg)
	info := m2.ListEntries(ctx)
	if len(info) != 1 || info[0].Resident {
		t.Fatalf("ListEntries() after reopen = %+v, want one non-resident entry", info)
	}

	e, err := m2.Retrieve(ctx, "decision:1")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if string(e.Data) != "use badger" || e.Metadata.TTL != time.Hour || !e.Metadata.HasTag("adr") {
		t.Errorf("Retrieve() = %+v", e)
	}
	if got := m2.ListByTag(ctx, "adr"); len(got) != 1 {
		t.Errorf("ListByTag(adr) = %v", got)
	}

	st := m2.Stats(ctx)
	if st.Misses != 1 || st.Hits != 0 {
		t.Errorf("Stats() hits/misses = %d/%d, want 0/1", st.Hits, st.Misses)
	}
	m2.Retrieve(ctx, "decision:1")
	if st := m2.Stats(ctx); st.Hits != 1 {
		t.Errorf("Stats().Hits = %d, want 1", st.Hits)
	}
}

func TestManager_RetrieveBumpsAccessedAt(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	m := openManager(t, cfg)

	past := time.Now().Add(-48 * time.Hour)
	meta := domain.Metadata{CreatedAt: past, AccessedAt: past}
	m.Store(ctx, "k", []byte("v"), meta)

	if st := m.Stats(ctx); st.CacheHitRate != 0 {
		t.Errorf("CacheHitRate before access = %v, want 0", st.CacheHitRate)
	}

	e, _ := m.Retrieve(ctx, "k")
	if !e.Metadata.AccessedAt.After(past) {
		t.Errorf("AccessedAt = %v, want refreshed", e.Metadata.AccessedAt)
	}
	if st := m.Stats(ctx); st.CacheHitRate != 1 {
		t.Errorf("CacheHitRate after access = %v, want 1", st.CacheHitRate)
	}

	// Inspect must not refresh.
	m.Store(ctx, "k2", []byte("v"), domain.Metadata{CreatedAt: past, AccessedAt: past})
	got, _ := m.Inspect(ctx, "k2")
	if !got.Metadata.AccessedAt.Equal(past.Truncate(time.Millisecond)) && !got.Metadata.AccessedAt.Equal(past) {
		t.Errorf("Inspect() changed AccessedAt to %v", got.Metadata.AccessedAt)
	}

	// The refreshed timestamp is persisted.
	m.Close()
	m2 := openManager(t, cfg)
	for _, info := range m2.ListEntries(ctx) {
		if info.Key == "k" && !info.Metadata.AccessedAt.After(past) {
			t.Errorf("persisted AccessedAt = %v, want refreshed", info.Metadata.AccessedAt)
		}
	}
}

func corruptFile(t *testing.T, path string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManager_DetectsDiskCorruption(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	m.Store(ctx, "good", []byte("fine"), domain.Metadata{})
	m.Store(ctx, "bad", []byte("will rot"), domain.Metadata{})
	m.Close()

	corruptFile(t, filepath.Join(cfg.BasePath, CacheDir, "bad"))

	m2 := openManager(t, cfg)
	if _, err := m2.Retrieve(ctx, "bad"); !errors.Is(err, domain.ErrDataCorruption) {
		t.Errorf("Retrieve(bad) error = %v, want ErrDataCorruption", err)
	}
	if e, err := m2.Retrieve(ctx, "good"); err != nil || string(e.Data) != "fine" {
		t.Errorf("Retrieve(good) = %v, %v", e, err)
	}
	if st := m2.Stats(ctx); st.Damaged != 1 {
		t.Errorf("Stats().Damaged = %d, want 1", st.Damaged)
	}
}

func TestManager_DetectsChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	m.Store(ctx, "k", []byte("original"), domain.Metadata{})
	m.Close()

	// Rewrite a well-formed envelope whose payload no longer matches its checksum.
	path := filepath.Join(cfg.BasePath, CacheDir, "k")
	raw, _ := os.ReadFile(path)
	e, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatal(err)
	}
	e.Data = []byte("tampered")
	frame, _ := encodeEnvelope(e)
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		t.Fatal(err)
	}

	m2 := openManager(t, cfg)
	if _, err := m2.Retrieve(ctx, "k"); !errors.Is(err, domain.ErrDataCorruption) {
		t.Errorf("Retrieve() error = %v, want ErrDataCorruption", err)
	}

	v, err := m2.VerifyEntry(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if v.OK() || !v.Persisted || v.PersistedValid {
		t.Errorf("VerifyEntry() = %+v, want persisted invalid", v)
	}
	if err := m2.RepairEntry(ctx, "k"); !errors.Is(err, domain.ErrDataCorruption) {
		t.Errorf("RepairEntry() error = %v, want ErrDataCorruption", err)
	}
}

func TestManager_RepairFromResident(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	m := openManager(t, cfg)

	m.Store(ctx, "k", []byte("keep me"), domain.Metadata{})
	corruptFile(t, filepath.Join(cfg.BasePath, CacheDir, "k"))

	v, _ := m.VerifyEntry(ctx, "k")
	if v.OK() || !v.ResidentValid {
		t.Fatalf("VerifyEntry() = %+v, want valid resident and bad disk", v)
	}
	if err := m.RepairEntry(ctx, "k"); err != nil {
		t.Fatalf("RepairEntry() error = %v", err)
	}
	if v, _ := m.VerifyEntry(ctx, "k"); !v.OK() {
		t.Errorf("VerifyEntry() after repair = %+v", v)
	}
}

func TestManager_CapacityEnforced(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxSizeGB = 100.0 / (1 << 30)
	m := openManager(t, cfg)

	if err := m.Store(ctx, "a", bytes.Repeat([]byte("x"), 60), domain.Metadata{}); err != nil {
		t.Fatalf("Store(a) error = %v", err)
	}
	err := m.Store(ctx, "b", bytes.Repeat([]byte("y"), 60), domain.Metadata{})
	if !errors.Is(err, domain.ErrStorageFull) {
		t.Fatalf("Store(b) error = %v, want ErrStorageFull", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.BasePath, CacheDir, "b")); !os.IsNotExist(err) {
		t.Error("rejected entry was persisted")
	}
	if e, _ := m.Retrieve(ctx, "b"); e != nil {
		t.Error("rejected entry is visible")
	}

	// Replacing an entry only counts the difference.
	if err := m.Store(ctx, "a", bytes.Repeat([]byte("x"), 95), domain.Metadata{}); err != nil {
		t.Errorf("Store(a, 95 bytes) error = %v", err)
	}
	if st := m.Stats(ctx); st.TotalBytes != 95 {
		t.Errorf("TotalBytes = %d, want 95", st.TotalBytes)
	}
}

func TestManager_CapacityConcurrent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxSizeGB = 1000.0 / (1 << 30)
	m := openManager(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			m.Store(ctx, key, bytes.Repeat([]byte("z"), 100), domain.Metadata{})
		}(i)
	}
	wg.Wait()

	st := m.Stats(ctx)
	if st.TotalBytes > 1000 {
		t.Errorf("TotalBytes = %d, exceeds capacity", st.TotalBytes)
	}
	if st.EntryCount != 10 {
		t.Errorf("EntryCount = %d, want 10", st.EntryCount)
	}
}

func TestManager_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	old := time.Now().Add(-2 * time.Hour)
	m.Store(ctx, "stale", []byte("x"), domain.Metadata{CreatedAt: old, TTL: time.Hour})
	m.Store(ctx, "fresh", []byte("y"), domain.Metadata{TTL: time.Hour})
	m.Store(ctx, "forever", []byte("z"), domain.Metadata{CreatedAt: old})

	n, err := m.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpired() = %d, %v; want 1, nil", n, err)
	}
	if e, _ := m.Retrieve(ctx, "stale"); e != nil {
		t.Error("expired entry still retrievable")
	}
	if n, _ := m.CleanupExpired(ctx); n != 0 {
		t.Errorf("second CleanupExpired() = %d, want 0", n)
	}
	if got := m.ListKeys(ctx); len(got) != 2 {
		t.Errorf("ListKeys() = %v", got)
	}
}

func TestManager_AutoCleanup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.UnusedAfter = 24 * time.Hour
	m := openManager(t, cfg)

	longAgo := time.Now().Add(-72 * time.Hour)
	m.Store(ctx, "expired", []byte("12345"), domain.Metadata{CreatedAt: longAgo, TTL: time.Hour})
	m.Store(ctx, "idle", []byte("123"), domain.Metadata{CreatedAt: longAgo, AccessedAt: longAgo})
	m.Store(ctx, "active", []byte("1"), domain.Metadata{})

	res, err := m.AutoCleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpiredRemoved != 1 || res.UnusedRemoved != 1 || res.BytesFreed != 8 {
		t.Errorf("AutoCleanup() = %+v", res)
	}
	if got := m.ListKeys(ctx); len(got) != 1 || got[0] != "active" {
		t.Errorf("ListKeys() = %v", got)
	}

	res, _ = m.AutoCleanup(ctx)
	if res.Removed() != 0 {
		t.Errorf("second AutoCleanup() removed %d", res.Removed())
	}
}

func TestManager_AutoCleanupBareConfig(t *testing.T) {
	ctx := context.Background()
	cfg := Config{BasePath: t.TempDir(), MaxSizeGB: 1, EnableChecksums: true, Logger: logger.Discard()}
	m := openManager(t, cfg)

	if got := m.Config().UnusedAfter; got != DefaultUnusedAfter {
		t.Fatalf("UnusedAfter = %v, want %v", got, DefaultUnusedAfter)
	}

	longAgo := time.Now().Add(-40 * 24 * time.Hour)
	m.Store(ctx, "idle", []byte("old"), domain.Metadata{CreatedAt: longAgo, AccessedAt: longAgo})
	m.Store(ctx, "fresh", []byte("new"), domain.Metadata{})

	res, err := m.AutoCleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.UnusedRemoved != 1 {
		t.Errorf("AutoCleanup() = %+v, want one unused removal", res)
	}
	if got := m.ListKeys(ctx); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("ListKeys() = %v", got)
	}
}

func TestManager_DisableUnusedCleanup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.DisableUnusedCleanup = true
	m := openManager(t, cfg)

	longAgo := time.Now().Add(-40 * 24 * time.Hour)
	m.Store(ctx, "idle", []byte("old"), domain.Metadata{CreatedAt: longAgo, AccessedAt: longAgo})
	m.Store(ctx, "expired", []byte("gone"), domain.Metadata{CreatedAt: longAgo, TTL: time.Hour})

	res, err := m.AutoCleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpiredRemoved != 1 || res.UnusedRemoved != 0 {
		t.Errorf("AutoCleanup() = %+v", res)
	}
}

func TestManager_SubMillisecondTTLSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Store(ctx, "blink", []byte("x"), domain.NewMetadata(domain.ContentOther, 500*time.Microsecond)); err != nil {
		t.Fatal(err)
	}
	m.Close()

	m2 := openManager(t, cfg)
	time.Sleep(5 * time.Millisecond)

	n, err := m2.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
}

func TestManager_CompressionAndLoad(t *testing.T) {
	ctx := context.Background()
	for _, algo := range []string{compress.Zstd, compress.LZ4, compress.Gzip} {
		t.Run(algo, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.CompressionEnabled = true
			cfg.CompressionAlgorithm = algo
			m := openManager(t, cfg)

			data := bytes.Repeat([]byte("rhema knowledge "), 256)
			if err := m.Store(ctx, "k", data, domain.Metadata{}); err != nil {
				t.Fatal(err)
			}

			e, _ := m.Retrieve(ctx, "k")
			if !e.Compressed || e.Codec != algo || !e.Metadata.HasTag(domain.TagCompressed) {
				t.Errorf("entry not compressed: compressed=%v codec=%s", e.Compressed, e.Codec)
			}
			if len(e.Data) >= len(data) {
				t.Errorf("stored %d bytes for %d byte payload", len(e.Data), len(data))
			}

			got, err := m.Load(ctx, "k")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("Load() did not return the original payload")
			}

			if st := m.Stats(ctx); st.CompressionRatio >= 1 {
				t.Errorf("CompressionRatio = %v, want < 1", st.CompressionRatio)
			}
		})
	}
}

func TestManager_IncompressibleStaysRaw(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompressionEnabled = true
	cfg.CompressionAlgorithm = compress.Zstd
	m := openManager(t, cfg)

	m.Store(context.Background(), "tiny", []byte("a"), domain.Metadata{})
	e, _ := m.Retrieve(context.Background(), "tiny")
	if e.Compressed {
		t.Error("payload that grows under compression should be stored raw")
	}
}

func TestManager_References(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	data := []byte("shared body")
	m.Store(ctx, "canon", data, domain.Metadata{})
	if err := m.Store(ctx, "dup", data, domain.Metadata{}, AsReference("canon")); err != nil {
		t.Fatal(err)
	}

	e, _ := m.Retrieve(ctx, "dup")
	if !e.IsReference() || string(e.Data) != "canon" || !e.Metadata.HasTag(domain.TagDedupReference) {
		t.Errorf("reference entry = %+v", e)
	}
	if e.Metadata.SizeBytes != int64(len(data)) {
		t.Errorf("SizeBytes = %d, want %d", e.Metadata.SizeBytes, len(data))
	}

	got, err := m.Load(ctx, "dup")
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("Load(dup) = %q, %v", got, err)
	}

	m.Delete(ctx, "canon")
	if _, err := m.Load(ctx, "dup"); !errors.Is(err, domain.ErrBrokenReference) {
		t.Errorf("Load() with missing target error = %v, want ErrBrokenReference", err)
	}
	if _, err := m.Load(ctx, "nope"); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Errorf("Load(unknown) error = %v, want ErrEntryNotFound", err)
	}
}

func TestManager_AlreadyCompressed(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	data := bytes.Repeat([]byte("abc"), 500)
	codec, _ := compress.Lookup(compress.LZ4)
	packed, _ := codec.Compress(data, 0)

	if err := m.Store(ctx, "k", packed, domain.Metadata{SizeBytes: int64(len(data))}, AlreadyCompressed(compress.LZ4)); err != nil {
		t.Fatal(err)
	}
	got, err := m.Load(ctx, "k")
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("Load() = %d bytes, %v", len(got), err)
	}
	if err := m.Store(ctx, "k2", packed, domain.Metadata{}, AlreadyCompressed("snappy")); !errors.Is(err, domain.ErrCompression) {
		t.Errorf("unknown codec error = %v, want ErrCompression", err)
	}
}

func TestManager_EncryptedWithoutCipher(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	e := &domain.Entry{Key: "sealed", Data: []byte("opaque"), Metadata: domain.NewMetadata(domain.ContentOther, 0, domain.TagEncrypted)}
	if err := m.StoreEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(ctx, "sealed"); !errors.Is(err, domain.ErrEncryption) {
		t.Errorf("Load() error = %v, want ErrEncryption", err)
	}
}

func TestManager_StoreIgnoresTransformTags(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.CompressionEnabled = true
	cfg.CompressionAlgorithm = compress.Zstd
	m := openManager(t, cfg)

	// Metadata taken from an entry the encryption pass already sealed.
	sealed := &domain.Entry{Key: "k", Data: []byte("opaque"), Metadata: domain.NewMetadata(domain.ContentOther, 0, "keep", domain.TagEncrypted)}
	if err := m.StoreEntry(ctx, sealed); err != nil {
		t.Fatal(err)
	}
	e, err := m.Retrieve(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}

	plain := bytes.Repeat([]byte("v2 plaintext "), 64)
	meta := e.Metadata
	meta.AddTag(domain.TagDedupReference)
	if err := m.Store(ctx, "k", plain, meta); err != nil {
		t.Fatal(err)
	}

	got, err := m.Inspect(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsEncrypted() || got.Metadata.HasTag(domain.TagDedupReference) {
		t.Errorf("tags = %v, want transform tags dropped", got.Metadata.Tags)
	}
	if !got.Compressed || !got.Metadata.HasTag("keep") {
		t.Errorf("compressed=%v tags=%v", got.Compressed, got.Metadata.Tags)
	}
	data, err := m.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(data, plain) {
		t.Errorf("Load() = %q", data)
	}
}

func TestManager_ConditionalStore(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	m.Store(ctx, "k", []byte("v1"), domain.Metadata{})
	stale, _ := m.Inspect(ctx, "k")
	m.Store(ctx, "k", []byte("v2"), domain.Metadata{})

	if err := m.Store(ctx, "k", []byte("v3"), domain.Metadata{}, IfUnchanged(stale.Data)); !errors.Is(err, ErrConflict) {
		t.Errorf("Store() over changed entry error = %v, want ErrConflict", err)
	}
	stale.Data = []byte("rewritten")
	if err := m.StoreEntry(ctx, stale, IfUnchanged([]byte("v1"))); !errors.Is(err, ErrConflict) {
		t.Errorf("StoreEntry() over changed entry error = %v, want ErrConflict", err)
	}
	if err := m.Store(ctx, "missing", []byte("x"), domain.Metadata{}, IfUnchanged(nil)); !errors.Is(err, ErrConflict) {
		t.Errorf("Store() over missing entry error = %v, want ErrConflict", err)
	}
	if got, _ := m.Load(ctx, "k"); string(got) != "v2" {
		t.Fatalf("Load() = %q, want v2", got)
	}

	if err := m.Store(ctx, "k", []byte("v3"), domain.Metadata{}, IfUnchanged([]byte("v2"))); err != nil {
		t.Fatalf("Store() over unchanged entry error = %v", err)
	}
	if got, _ := m.Load(ctx, "k"); string(got) != "v3" {
		t.Errorf("Load() = %q, want v3", got)
	}
}

func TestManager_CleanupPromotesReferencedCanonical(t *testing.T) {
	cipher, err := adaptive.NewChaCha20(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte("shared decision body "), 40)

	tests := []struct {
		name     string
		compress bool
		encrypt  bool
	}{
		{name: "plain"},
		{name: "compressed", compress: true},
		{name: "encrypted", encrypt: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t)
			cfg.CompressionEnabled = tt.compress
			cfg.CompressionAlgorithm = compress.Zstd
			cfg.Cipher = cipher
			m := openManager(t, cfg)

			old := time.Now().Add(-time.Hour)
			meta := domain.Metadata{CreatedAt: old, TTL: time.Minute, Tags: []string{domain.TagDedupCanonical}}
			if err := m.Store(ctx, "a-temp", payload, meta); err != nil {
				t.Fatal(err)
			}
			if tt.encrypt {
				e, _ := m.Inspect(ctx, "a-temp")
				sealed, err := cipher.Encrypt(e.Data, []byte("a-temp"))
				if err != nil {
					t.Fatal(err)
				}
				e.Data = sealed
				e.Metadata.AddTag(domain.TagEncrypted)
				if err := m.StoreEntry(ctx, e); err != nil {
					t.Fatal(err)
				}
			}
			for _, key := range []string{"b-forever", "c-forever"} {
				ref := domain.Metadata{SizeBytes: int64(len(payload))}
				if err := m.Store(ctx, key, nil, ref, AsReference("a-temp")); err != nil {
					t.Fatal(err)
				}
			}

			n, err := m.CleanupExpired(ctx)
			if err != nil || n != 1 {
				t.Fatalf("CleanupExpired() = %d, %v; want 1, nil", n, err)
			}
			if e, _ := m.Inspect(ctx, "a-temp"); e != nil {
				t.Error("expired canonical still present")
			}
			for _, key := range []string{"b-forever", "c-forever"} {
				got, err := m.Load(ctx, key)
				if err != nil || !bytes.Equal(got, payload) {
					t.Errorf("Load(%s) = %d bytes, %v", key, len(got), err)
				}
			}

			heir, _ := m.Inspect(ctx, "b-forever")
			if heir.IsReference() || !heir.Metadata.HasTag(domain.TagDedupCanonical) || heir.Metadata.HasTag(domain.TagDedupReference) {
				t.Errorf("heir = reference %q tags %v", heir.Reference, heir.Metadata.Tags)
			}
			if heir.IsEncrypted() != tt.encrypt || heir.Compressed != tt.compress {
				t.Errorf("heir encrypted=%v compressed=%v", heir.IsEncrypted(), heir.Compressed)
			}
			if heir.Metadata.TTL != 0 {
				t.Errorf("heir TTL = %v, want the reference's own", heir.Metadata.TTL)
			}
			if other, _ := m.Inspect(ctx, "c-forever"); other.Reference != "b-forever" {
				t.Errorf("c-forever references %q, want b-forever", other.Reference)
			}
		})
	}
}

func TestManager_CleanupKeepsCanonicalItCannotMove(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	old := time.Now().Add(-time.Hour)
	sealed := &domain.Entry{
		Key:      "a-temp",
		Data:     []byte("sealed elsewhere"),
		Metadata: domain.Metadata{CreatedAt: old, TTL: time.Minute, Tags: []string{domain.TagEncrypted}},
	}
	if err := m.StoreEntry(ctx, sealed); err != nil {
		t.Fatal(err)
	}
	m.Store(ctx, "b-forever", nil, domain.Metadata{}, AsReference("a-temp"))

	// Without a cipher the payload cannot be resealed for its new key.
	n, err := m.CleanupExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("CleanupExpired() = %d, %v; want 0, nil", n, err)
	}
	if e, _ := m.Inspect(ctx, "a-temp"); e == nil {
		t.Error("canonical removed while still referenced")
	}
}

func TestManager_Subscribe(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	var mu sync.Mutex
	var got []Change
	cancel := m.Subscribe(func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	m.Store(ctx, "a", []byte("1"), domain.Metadata{})
	m.Delete(ctx, "a")
	m.Delete(ctx, "a")
	cancel()
	m.Store(ctx, "b", []byte("2"), domain.Metadata{})

	want := []Change{{ChangeStore, "a"}, {ChangeDelete, "a"}}
	if len(got) != len(want) {
		t.Fatalf("changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestManager_CreateBackup(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		m := openManager(t, testConfig(t))
		if _, err := m.CreateBackup(ctx); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("CreateBackup() error = %v, want ErrConfiguration", err)
		}
	})

	t.Run("file backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.BackupEnabled = true
		m := openManager(t, cfg)
		m.Store(ctx, "a", []byte("1"), domain.Metadata{})
		os.WriteFile(filepath.Join(cfg.BasePath, SessionsDir, "x.json"), []byte("{}"), 0o644)

		path, err := m.CreateBackup(ctx)
		if err != nil {
			t.Fatalf("CreateBackup() error = %v", err)
		}
		names, err := backup.Contents(path)
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]bool{"cache/a": false, "sessions/x.json": false}
		for _, n := range names {
			if _, ok := want[n]; ok {
				want[n] = true
			}
		}
		for n, found := range want {
			if !found {
				t.Errorf("archive missing %s (has %v)", n, names)
			}
		}
	})

	t.Run("badger backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.BackupEnabled = true
		cfg.Backend = BackendBadger
		m := openManager(t, cfg)
		m.Store(ctx, "a", []byte("1"), domain.Metadata{})

		path, err := m.CreateBackup(ctx)
		if err != nil {
			t.Fatalf("CreateBackup() error = %v", err)
		}
		names, _ := backup.Contents(path)
		found := false
		for _, n := range names {
			if n == "cache.badger" {
				found = true
			}
			if strings.HasPrefix(n, "cache/") {
				t.Errorf("badger backup should not copy raw files, found %s", n)
			}
		}
		if !found {
			t.Errorf("archive missing badger export: %v", names)
		}
	})
}

func TestManager_BadgerBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Backend = BackendBadger
	cfg.CompressionEnabled = true

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte("badger "), 200)
	m.Store(ctx, "k1", data, domain.Metadata{})
	m.Store(ctx, "k2", []byte("two"), domain.Metadata{})
	m.Delete(ctx, "k2")
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	m2 := openManager(t, cfg)
	if got := m2.ListKeys(ctx); len(got) != 1 || got[0] != "k1" {
		t.Fatalf("ListKeys() after reopen = %v", got)
	}
	got, err := m2.Load(ctx, "k1")
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("Load() = %d bytes, %v", len(got), err)
	}
}

func TestManager_ClosedOperations(t *testing.T) {
	m, err := Open(context.Background(), testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	m.Close()
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := m.Store(context.Background(), "a", nil, domain.Metadata{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Store() after Close error = %v, want ErrClosed", err)
	}
}
