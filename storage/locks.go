package storage

import "sync"

// Locks serializes the read-modify-write cycles of one owner. Stores hold
// whole blobs per key, so two requests of the same client that load, change
// and save concurrently would otherwise lose one of the changes.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: map[string]*ownerLock{}}
}

// Lock blocks until owner is free and returns the function releasing it.
// A nil Locks does no locking.
func (l *Locks) Lock(owner string) (unlock func()) {
	if l == nil {
		return func() {}
	}

	l.mu.Lock()
	ol, ok := l.locks[owner]
	if !ok {
		ol = &ownerLock{}
		l.locks[owner] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.Lock()
	return func() {
		ol.Unlock()

		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}

// Len is the number of owners currently holding or waiting for a lock.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
