package maps

import "github.com/cornelk/hashmap"

// cornelkMap backs ConcurrentMap with cornelk/hashmap, a lock-free map
// kept as an alternative for read-heavy workloads.
type cornelkMap[K Integer, V any] struct {
	m *hashmap.Map[K, V]
}

func newCornelkMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &cornelkMap[K, V]{m: hashmap.New[K, V]()}
}

func (m *cornelkMap[K, V]) Load(key K) (V, bool) {
	return m.m.Get(key)
}

func (m *cornelkMap[K, V]) Store(key K, value V) {
	m.m.Set(key, value)
}

func (m *cornelkMap[K, V]) Delete(key K) {
	m.m.Del(key)
}

// LoadAndDelete is get-then-delete; the two steps are not atomic with
// respect to concurrent writers of the same key.
func (m *cornelkMap[K, V]) LoadAndDelete(key K) (V, bool) {
	v, ok := m.m.Get(key)
	if ok {
		m.m.Del(key)
	}
	return v, ok
}

// LoadOrStore always invokes the factory; hashmap has no compute variant.
func (m *cornelkMap[K, V]) LoadOrStore(key K, valueFactory func() V) V {
	v, _ := m.m.GetOrInsert(key, valueFactory())
	return v
}

func (m *cornelkMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(f)
}
