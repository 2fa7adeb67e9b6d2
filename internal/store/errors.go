package store

import "fmt"

// StorageError wraps a local persistence failure (quota, I/O, corruption).
//
// This is the one error class the engine surfaces synchronously: callers of
// StoreData/QueueAction see it because the local write itself failed. Sync
// cycle failures never produce a StorageError back to the original caller.
type StorageError struct {
	Op  string // the store operation that failed
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err as a StorageError for the given operation.
func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
