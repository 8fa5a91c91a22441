package document

import "sync"

// documentLocks serializes the multi-step writes of a single document. Entries are
// dropped once nobody holds or waits on them.
type documentLocks struct {
	mu    sync.Mutex
	locks map[string]*documentLock
}

type documentLock struct {
	sync.Mutex
	refs int
}

// lock blocks until id is free and returns the matching unlock
func (l *documentLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*documentLock)
	}
	entry, ok := l.locks[id]
	if !ok {
		entry = &documentLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held reports how many documents currently have a lock entry
func (l *documentLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
