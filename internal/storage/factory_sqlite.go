//go:build sqlite

package storage

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

// DefaultStoreKind names the backend used when a config leaves the
// store kind blank.
func DefaultStoreKind() string {
	return "sqlite"
}
