package maps

import "sync"

// stdSyncMap backs ConcurrentMap with the standard library's sync.Map,
// kept as the dependency-free fallback.
type stdSyncMap[K Integer, V any] struct {
	m sync.Map
}

func newStdSyncMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &stdSyncMap[K, V]{}
}

func (m *stdSyncMap[K, V]) Load(key K) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (m *stdSyncMap[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

func (m *stdSyncMap[K, V]) Delete(key K) {
	m.m.Delete(key)
}

func (m *stdSyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	v, loaded := m.m.LoadAndDelete(key)
	if !loaded {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// LoadOrStore always invokes the factory, even on a hit.
func (m *stdSyncMap[K, V]) LoadOrStore(key K, valueFactory func() V) V {
	v, _ := m.m.LoadOrStore(key, valueFactory())
	return v.(V)
}

func (m *stdSyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
