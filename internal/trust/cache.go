package trust

import "time"

// Cache defines the trust cache operations the notary depends on.
type Cache interface {
	Put(algorithm, signature string) error
	Contains(algorithm, signature string) (bool, error)
	Delete(algorithm, signature string) error
	Get(algorithm, signature string) (*Record, error)
	MaybeCull(cacheSize int, interval time.Duration) (removed int, ran bool, err error)
	Cull(cacheSize int) (int, error)
	Count() (int, error)
	Close() error
}

// Verify *DB satisfies Cache at compile time.
var _ Cache = (*DB)(nil)
