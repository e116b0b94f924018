package maps

import (
	"sync"
	"testing"
)

// implementations under test; keyed by name for subtests.
func implementations() map[string]func() ConcurrentMap[uint32, int] {
	return map[string]func() ConcurrentMap[uint32, int]{
		"xsync":   newXSyncMap[uint32, int],
		"cornelk": newCornelkMap[uint32, int],
		"sync":    newStdSyncMap[uint32, int],
	}
}

func TestConcurrentMapConformance(t *testing.T) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			m := factory()

			if _, ok := m.Load(1); ok {
				t.Fatal("Load on empty map reported a hit")
			}

			m.Store(1, 100)
			if v, ok := m.Load(1); !ok || v != 100 {
				t.Fatalf("Load(1) = %v, %v; want 100, true", v, ok)
			}

			got := m.LoadOrStore(1, func() int { return 999 })
			if got != 100 {
				t.Fatalf("LoadOrStore on existing key returned %v, want 100", got)
			}
			got = m.LoadOrStore(2, func() int { return 200 })
			if got != 200 {
				t.Fatalf("LoadOrStore on missing key returned %v, want 200", got)
			}

			seen := map[uint32]int{}
			m.Range(func(k uint32, v int) bool {
				seen[k] = v
				return true
			})
			if len(seen) != 2 || seen[1] != 100 || seen[2] != 200 {
				t.Fatalf("Range saw %v, want {1:100 2:200}", seen)
			}

			if v, ok := m.LoadAndDelete(2); !ok || v != 200 {
				t.Fatalf("LoadAndDelete(2) = %v, %v; want 200, true", v, ok)
			}
			if _, ok := m.Load(2); ok {
				t.Fatal("key 2 still present after LoadAndDelete")
			}

			m.Delete(1)
			if _, ok := m.Load(1); ok {
				t.Fatal("key 1 still present after Delete")
			}
		})
	}
}

func TestConcurrentMapParallelLoadOrStore(t *testing.T) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			m := factory()
			const goroutines = 8
			const keys = 64

			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for k := uint32(0); k < keys; k++ {
						m.LoadOrStore(k, func() int { return int(k) * 10 })
					}
				}()
			}
			wg.Wait()

			for k := uint32(0); k < keys; k++ {
				if v, ok := m.Load(k); !ok || v != int(k)*10 {
					t.Fatalf("key %d = %v, %v; want %d, true", k, v, ok, int(k)*10)
				}
			}
		})
	}
}
