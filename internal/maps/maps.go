// Package maps provides a small generic concurrent-map abstraction for
// integer-keyed shared state (pid-keyed capture statistics, swap-chain
// addresses). The implementation behind the interface is selectable so the
// trade-offs can be benchmarked without touching call sites.
package maps

// mapImplementation selects the default backing implementation.
// Valid options: "xsync", "cornelk", "sync".
const mapImplementation = "xsync"

// Integer constrains keys to integer types, all of which are comparable.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// ConcurrentMap is a thread-safe map for integer keys. Writers on the
// decode path and readers on the scrape path share instances without
// external locking.
type ConcurrentMap[K Integer, V any] interface {
	Load(key K) (V, bool)
	Store(key K, value V)
	Delete(key K)
	LoadAndDelete(key K) (V, bool)
	// LoadOrStore returns the existing value for key, or stores and returns
	// the factory's value when absent.
	LoadOrStore(key K, valueFactory func() V) V
	Range(f func(key K, value V) bool)
}

// New returns the default ConcurrentMap implementation.
func New[K Integer, V any]() ConcurrentMap[K, V] {
	switch mapImplementation {
	case "xsync":
		return newXSyncMap[K, V]()
	case "cornelk":
		return newCornelkMap[K, V]()
	case "sync":
		return newStdSyncMap[K, V]()
	default:
		return newXSyncMap[K, V]()
	}
}
