package state_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/state"
)

// BenchmarkUpdateCached measures the fast path where the mtime matches.
func BenchmarkUpdateCached(b *testing.B) {
	path := filepath.Join(b.TempDir(), "blob")
	if err := os.WriteFile(path, make([]byte, 1<<20), 0644); err != nil {
		b.Fatal(err)
	}

	store, err := state.Open(state.NewMemoryPersister(map[string]state.Entry{}), events.Discard())
	if err != nil {
		b.Fatal(err)
	}
	if _, err := store.Update(path, false); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := store.Update(path, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkJSONPersisterSave(b *testing.B) {
	for _, n := range []int{100, 10000} {
		b.Run(fmt.Sprintf("%d_entries", n), func(b *testing.B) {
			entries := make(map[string]state.Entry, n)
			for i := 0; i < n; i++ {
				entries[fmt.Sprintf("2049:%d", i)] = state.Entry{MTime: int64(i), MD5: "0cc175b9c0f1b6a831c399e269772661"}
			}
			p := state.NewJSONPersister(filepath.Join(b.TempDir(), "state"), events.Discard())

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := p.Save(entries); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
