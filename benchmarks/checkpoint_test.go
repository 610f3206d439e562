package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
)

// blob is a checkpoint roughly the size of a tiered-vision run.
func blob(b *testing.B) []byte {
	b.Helper()
	env := checkpoint.NewEnvelope("bench", "screen", 1, json.RawMessage(fmt.Sprintf(
		`{"thread_id":"bench","intermediate":{"screen":{"findings":%q}}}`, strings.Repeat("lesion ", 400))), "diagnose")
	data, err := env.Marshal()
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func stores(b *testing.B) map[string]checkpoint.Store {
	b.Helper()
	sqlite, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	mr := miniredis.RunT(b)
	redis, err := checkpoint.NewRedisStore(checkpoint.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		_ = sqlite.Close()
		_ = redis.Close()
	})
	return map[string]checkpoint.Store{
		"memory": checkpoint.NewMemoryStore(),
		"sqlite": sqlite,
		"redis":  redis,
	}
}

func BenchmarkStore_Put(b *testing.B) {
	data := blob(b)
	for name, store := range stores(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			var seq int64
			for b.Loop() {
				seq++
				if err := store.Put(ctx, checkpoint.Checkpoint{ThreadID: "bench:put", Sequence: seq, Blob: data}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkStore_Latest(b *testing.B) {
	data := blob(b)
	for name, store := range stores(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			for seq := int64(1); seq <= 20; seq++ {
				if err := store.Put(ctx, checkpoint.Checkpoint{ThreadID: "bench:latest", Sequence: seq, Blob: data}); err != nil {
					b.Fatal(err)
				}
			}
			for b.Loop() {
				if _, err := store.Latest(ctx, "bench:latest"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
