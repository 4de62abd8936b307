package runtime

import (
	"sync"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// MaxRecentBlockhashes is how many slots a blockhash stays usable.
const MaxRecentBlockhashes = 150

type blockhashEntry struct {
	hash types.Hash
	slot uint64
}

// blockhashQueue holds the most recent blockhashes, oldest first.
type blockhashQueue struct {
	entries []blockhashEntry
	index   map[types.Hash]uint64
	maxAge  int
}

func newBlockhashQueue(maxAge int) *blockhashQueue {
	if maxAge <= 0 {
		maxAge = MaxRecentBlockhashes
	}
	return &blockhashQueue{index: make(map[types.Hash]uint64), maxAge: maxAge}
}

func (q *blockhashQueue) push(hash types.Hash, slot uint64) {
	q.entries = append(q.entries, blockhashEntry{hash, slot})
	q.index[hash] = slot
	for len(q.entries) > q.maxAge {
		delete(q.index, q.entries[0].hash)
		q.entries = q.entries[1:]
	}
}

func (q *blockhashQueue) latest() blockhashEntry {
	if len(q.entries) == 0 {
		return blockhashEntry{}
	}
	return q.entries[len(q.entries)-1]
}

func (q *blockhashQueue) contains(hash types.Hash) bool {
	_, ok := q.index[hash]
	return ok
}

// SignatureStatus is the processing outcome of a transaction.
type SignatureStatus struct {
	Slot uint64
	Err  error
}

// statusCache remembers processed signatures so duplicates are rejected
// while their blockhash could still be accepted.
type statusCache struct {
	mu       sync.RWMutex
	statuses map[types.Signature]SignatureStatus
}

func newStatusCache() *statusCache {
	return &statusCache{statuses: make(map[types.Signature]SignatureStatus)}
}

// reserve records a placeholder for sig. It returns false if sig is known.
func (c *statusCache) reserve(sig types.Signature, slot uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.statuses[sig]; ok {
		return false
	}
	c.statuses[sig] = SignatureStatus{Slot: slot}
	return true
}

func (c *statusCache) set(sig types.Signature, status SignatureStatus) {
	c.mu.Lock()
	c.statuses[sig] = status
	c.mu.Unlock()
}

func (c *statusCache) forget(sig types.Signature) {
	c.mu.Lock()
	delete(c.statuses, sig)
	c.mu.Unlock()
}

func (c *statusCache) get(sig types.Signature) (SignatureStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[sig]
	return s, ok
}

// prune drops entries processed before minSlot.
func (c *statusCache) prune(minSlot uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for sig, s := range c.statuses {
		if s.Slot < minSlot {
			delete(c.statuses, sig)
			n++
		}
	}
	return n
}
