package runtime

import (
	"sync"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// AccountLocks serialises transactions that touch the same accounts.
//
// Writable keys are held exclusively and readonly keys are shared. A caller
// acquires its whole key set at once or waits, so two transactions can never
// each hold part of what the other needs.
type AccountLocks struct {
	mu      sync.Mutex
	cond    *sync.Cond
	writers map[types.Pubkey]struct{}
	readers map[types.Pubkey]int
}

// NewAccountLocks creates an empty lock table.
func NewAccountLocks() *AccountLocks {
	l := &AccountLocks{
		writers: make(map[types.Pubkey]struct{}),
		readers: make(map[types.Pubkey]int),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock blocks until every writable key can be held exclusively and every
// readonly key shared. A key listed in both is treated as writable. The
// returned function releases everything.
func (l *AccountLocks) Lock(writable, readonly []types.Pubkey) (unlock func()) {
	w, r := normalizeKeys(writable, readonly)

	l.mu.Lock()
	for !l.available(w, r) {
		l.cond.Wait()
	}
	l.acquire(w, r)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.release(w, r)
			l.mu.Unlock()
			l.cond.Broadcast()
		})
	}
}

// TryLock acquires the keys only if none are contended.
func (l *AccountLocks) TryLock(writable, readonly []types.Pubkey) (unlock func(), ok bool) {
	w, r := normalizeKeys(writable, readonly)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.available(w, r) {
		return nil, false
	}
	l.acquire(w, r)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.release(w, r)
			l.mu.Unlock()
			l.cond.Broadcast()
		})
	}, true
}

// Held returns the number of keys currently locked.
func (l *AccountLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writers) + len(l.readers)
}

func (l *AccountLocks) available(w, r []types.Pubkey) bool {
	for _, k := range w {
		if _, ok := l.writers[k]; ok {
			return false
		}
		if l.readers[k] > 0 {
			return false
		}
	}
	for _, k := range r {
		if _, ok := l.writers[k]; ok {
			return false
		}
	}
	return true
}

func (l *AccountLocks) acquire(w, r []types.Pubkey) {
	for _, k := range w {
		l.writers[k] = struct{}{}
	}
	for _, k := range r {
		l.readers[k]++
	}
}

func (l *AccountLocks) release(w, r []types.Pubkey) {
	for _, k := range w {
		delete(l.writers, k)
	}
	for _, k := range r {
		if l.readers[k] <= 1 {
			delete(l.readers, k)
		} else {
			l.readers[k]--
		}
	}
}

// normalizeKeys deduplicates both lists and drops readonly keys that are also writable.
func normalizeKeys(writable, readonly []types.Pubkey) (w, r []types.Pubkey) {
	seen := make(map[types.Pubkey]struct{}, len(writable)+len(readonly))
	for _, k := range writable {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			w = append(w, k)
		}
	}
	for _, k := range readonly {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			r = append(r, k)
		}
	}
	return w, r
}
