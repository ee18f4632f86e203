package storage

import "github.com/pkg/errors"

// DefaultStoreKind keeps archives next to the model output.
func DefaultStoreKind() string {
	return "file"
}

// NewStore builds a backend. path is the archive root for "file" and the
// database file for "sqlite"; "memory" ignores it.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "file":
		return NewFileStore(path), nil
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(path)
	default:
		return nil, errors.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
