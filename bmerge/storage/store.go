package storage

// Store is the node-local key-value store behind the DKV.
type Store interface {
	// Write operations
	Put(key, value []byte) error
	Delete(key []byte) error

	// Read operations. Get returns nil, nil for a missing key.
	Get(key []byte) ([]byte, error)
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// Lifecycle
	Close() error
}
