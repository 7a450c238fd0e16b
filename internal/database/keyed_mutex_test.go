package database

import (
	"fmt"
	"sync"
	"testing"
)

func TestPersonLocks_SameIDSameMutex(t *testing.T) {
	var locks PersonLocks
	if locks.For("alice") != locks.For("alice") {
		t.Error("one id must always map to the same mutex")
	}
}

func TestPersonLocks_FixedStripes(t *testing.T) {
	var locks PersonLocks
	seen := make(map[*sync.Mutex]struct{})
	for i := 0; i < 10000; i++ {
		seen[locks.For(fmt.Sprintf("person-%d", i))] = struct{}{}
	}
	if len(seen) > personLockStripes {
		t.Errorf("expected at most %d mutexes, got %d", personLockStripes, len(seen))
	}
	if len(seen) < personLockStripes/2 {
		t.Errorf("ids should spread over the stripes, only %d used", len(seen))
	}
}
