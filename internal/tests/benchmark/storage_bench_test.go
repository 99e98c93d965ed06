package benchmark

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

// BenchmarkStore measures writes per backend and payload size.
func BenchmarkStore(b *testing.B) {
	for _, backend := range Backends {
		for _, size := range PayloadSizes {
			b.Run(fmt.Sprintf("%s/size_%d", backend, size), func(b *testing.B) {
				m := openStore(b, backend, true)
				ctx := context.Background()
				payload := textPayload(size, 1)
				meta := domain.NewMetadata(domain.ContentKnowledge, 0)

				b.SetBytes(int64(size))
				b.ReportAllocs()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if err := m.Store(ctx, fmt.Sprintf("k-%d", i%1000), payload, meta); err != nil {
						b.Fatalf("Store failed: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkRetrieve_Resident measures hits on entries already in memory.
func BenchmarkRetrieve_Resident(b *testing.B) {
	for _, count := range EntryCounts {
		b.Run(fmt.Sprintf("entries_%d", count), func(b *testing.B) {
			m := openStore(b, storage.BackendFile, true)
			keys := prefill(b, m, count, 1024)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				e, err := m.Retrieve(ctx, keys[i%len(keys)])
				if err != nil || e == nil {
					b.Fatalf("Retrieve failed: %v", err)
				}
			}

			b.StopTimer()
			reportMemory(b, "mem")
		})
	}
}

// BenchmarkLoad_Parallel measures decompressing reads from many goroutines.
func BenchmarkLoad_Parallel(b *testing.B) {
	m := openStore(b, storage.BackendFile, true)
	keys := prefill(b, m, 1000, 4096)
	ctx := context.Background()
	var n atomic.Uint64

	b.SetBytes(4096)
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := n.Add(1)
			if _, err := m.Load(ctx, keys[i%uint64(len(keys))]); err != nil {
				b.Errorf("Load failed: %v", err)
				return
			}
		}
	})
}

// BenchmarkOpen_Recover measures index rebuild at startup.
func BenchmarkOpen_Recover(b *testing.B) {
	for _, backend := range Backends {
		b.Run(backend, func(b *testing.B) {
			m := openStore(b, backend, true)
			prefill(b, m, 5000, 512)
			cfg := m.Config()
			m.Close()

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				m2, err := storage.Open(context.Background(), cfg)
				if err != nil {
					b.Fatalf("Open failed: %v", err)
				}
				m2.Close()
			}
		})
	}
}
