package storage

import "context"

// ObjectStore abstracts the blob operations the processing pipeline needs.
// Implementations map keys to an underlying object store; keys use forward
// slashes and never escape the store root.
type ObjectStore interface {
	// Optimize produces a size-bounded derivative of the object at key and
	// returns the derivative's key. Callers treat failures as non-fatal and
	// continue with the original key.
	Optimize(ctx context.Context, key string) (string, error)

	// Copy duplicates an object within the store.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Put writes data at key and returns the canonicalized key.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Read returns the object bytes at key.
	Read(ctx context.Context, key string) ([]byte, error)
}
