package link

import (
	"fmt"
	"sync"
)

// claims records which buses and lines are owned by an open Link in this
// process. periph itself lets any number of callers drive the same pin.
var (
	claimsMu sync.Mutex
	claimed  = map[string]bool{}
)

// claim takes every key or none of them.
func claim(keys []string) error {
	claimsMu.Lock()
	defer claimsMu.Unlock()

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if claimed[k] {
			return fmt.Errorf("%w: %s already claimed", ErrResource, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: %s assigned twice", ErrResource, k)
		}
		seen[k] = true
	}
	for _, k := range keys {
		claimed[k] = true
	}
	return nil
}

func release(keys []string) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	for _, k := range keys {
		delete(claimed, k)
	}
}
