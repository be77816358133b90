package coord

// Locks is the lock set shared by every component of one process. Sessions
// serialize cart operations of a single session; Products guard stock and
// catalog rows while a ledger operation or checkout is in flight.
//
// Lock order: a session lock is always taken before any product lock.
type Locks struct {
	Sessions *KeyedMutex[string]
	Products *KeyedMutex[int64]
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{
		Sessions: NewKeyedMutex[string](),
		Products: NewKeyedMutex[int64](),
	}
}

// LockSession serializes work on one session.
func (l *Locks) LockSession(sessionID string) func() {
	return l.Sessions.Lock(sessionID)
}

// LockProducts holds every product in ids, acquired in ascending order.
func (l *Locks) LockProducts(ids []int64) func() {
	return LockOrdered(l.Products, ids)
}
