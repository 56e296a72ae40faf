package sqlutil

import (
	"database/sql"
	"errors"
	"sync"
)

// The Writer serialises database writes. SQLite does not tolerate
// concurrent writers on the same connection, so turning all writes into
// a single ordered queue avoids "database is locked" errors under load.
// PostgreSQL handles its own locking and gets a passthrough writer.
type Writer interface {
	// Do queues a task and waits for it to complete before returning.
	// The transaction can be nil, in which case the task decides whether
	// to open one via the supplied database handle.
	Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error
}

// DummyWriter executes the task immediately on the calling goroutine.
type DummyWriter struct{}

func NewDummyWriter() Writer {
	return &DummyWriter{}
}

func (w *DummyWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	if db != nil && txn == nil {
		return WithTransaction(db, f)
	}
	return f(txn)
}

// ExclusiveWriter allows one task to hold the database at a time. Tasks
// from other goroutines queue on the mutex in arrival order.
type ExclusiveWriter struct {
	mutex sync.Mutex
}

func NewExclusiveWriter() Writer {
	return &ExclusiveWriter{}
}

func (w *ExclusiveWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if db != nil && txn == nil {
		return WithTransaction(db, f)
	}
	return f(txn)
}

// ErrNoWriter is returned when storage is constructed without a writer.
var ErrNoWriter = errors.New("sqlutil: no writer configured")
