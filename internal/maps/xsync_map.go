package maps

import "github.com/puzpuzpuz/xsync/v4"

// xsyncMap backs ConcurrentMap with puzpuzpuz/xsync, the fastest option
// under the mixed read/write load of the decode and scrape paths.
type xsyncMap[K Integer, V any] struct {
	m *xsync.Map[K, V]
}

func newXSyncMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &xsyncMap[K, V]{m: xsync.NewMap[K, V]()}
}

func (m *xsyncMap[K, V]) Load(key K) (V, bool) {
	return m.m.Load(key)
}

func (m *xsyncMap[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

func (m *xsyncMap[K, V]) Delete(key K) {
	m.m.Delete(key)
}

func (m *xsyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	return m.m.LoadAndDelete(key)
}

func (m *xsyncMap[K, V]) LoadOrStore(key K, valueFactory func() V) V {
	// LoadOrCompute only runs the factory on a miss; the second return of
	// the inner func is the cancel flag, never used here.
	v, _ := m.m.LoadOrCompute(key, func() (V, bool) {
		return valueFactory(), false
	})
	return v
}

func (m *xsyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(f)
}
