package database

import (
	"hash/fnv"
	"sync"
)

// personLockStripes is the number of mutexes shared by all person ids.
const personLockStripes = 64

// PersonLocks serializes work on the same person id with a fixed set of
// mutexes, so memory use does not grow with the number of ids ever seen.
// Two ids may share a stripe; callers must never hold two stripes at once.
type PersonLocks struct {
	stripes [personLockStripes]sync.Mutex
}

// For returns the mutex guarding id.
func (l *PersonLocks) For(id string) *sync.Mutex {
	return &l.stripes[stripeOf(id)]
}

func stripeOf(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % personLockStripes)
}
