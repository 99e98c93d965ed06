package benchmark

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"testing"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
)

// EntryCounts are the store sizes benchmarks preload.
var EntryCounts = []int{1000, 5000, 10000}

// PayloadSizes are the value sizes benchmarks store.
var PayloadSizes = []int{256, 4096, 65536}

// Backends are the persistence backends under test.
var Backends = []string{storage.BackendFile, storage.BackendBadger}

// textPayload returns compressible, text-like content of n bytes.
func textPayload(n, seed int) []byte {
	words := []string{"agent", "context", "decision", "pattern", "workflow", "todo", "knowledge", "scope"}
	r := rand.New(rand.NewPCG(uint64(seed), 7))
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString(words[r.IntN(len(words))])
		sb.WriteByte(' ')
	}
	return []byte(sb.String()[:n])
}

// randomPayload returns incompressible content of n bytes.
func randomPayload(n, seed int) []byte {
	r := rand.New(rand.NewPCG(uint64(seed), 11))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func openStore(b *testing.B, backend string, compression bool) *storage.Manager {
	b.Helper()

	cfg := storage.DefaultConfig(b.TempDir())
	cfg.Backend = backend
	cfg.MaxSizeGB = 0
	cfg.CompressionEnabled = compression
	cfg.CompressionAlgorithm = compress.Zstd
	cfg.CleanupEnabled = false
	cfg.Badger.GCInterval = 0
	cfg.Logger = logger.Discard()

	m, err := storage.Open(context.Background(), cfg)
	if err != nil {
		b.Fatalf("Open failed: %v", err)
	}
	b.Cleanup(func() { m.Close() })
	return m
}

// prefill stores count text entries of size bytes and returns their keys.
func prefill(b *testing.B, m *storage.Manager, count, size int) []string {
	b.Helper()
	ctx := context.Background()
	keys := make([]string, count)
	for i := range keys {
		keys[i] = fmt.Sprintf("entry-%06d", i)
		meta := domain.NewMetadata(domain.ContentKnowledge, 0)
		if err := m.Store(ctx, keys[i], textPayload(size, i), meta); err != nil {
			b.Fatalf("Store failed: %v", err)
		}
	}
	return keys
}

// reportMemory reports heap usage after a forced GC.
func reportMemory(b *testing.B, prefix string) {
	var ms runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&ms)
	b.ReportMetric(float64(ms.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(ms.NumGC), prefix+"_GC")
}
