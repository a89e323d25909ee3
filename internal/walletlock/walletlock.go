package walletlock

import "sync"

// Locks hands out one exclusive lock per wallet.
// Entries are refcounted and dropped when nobody holds or waits on them.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock set
func New() *Locks {
	return &Locks{
		locks: make(map[string]*entry),
	}
}

// Lock blocks until the wallet's lock is held and returns its release func
func (l *Locks) Lock(walletID string) func() {
	l.mu.Lock()
	e, ok := l.locks[walletID]
	if !ok {
		e = &entry{}
		l.locks[walletID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, walletID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of wallets currently locked or waited on
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
