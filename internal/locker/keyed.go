// Package locker serializes work per key. Each key gets its own lock, created
// on first use and dropped when the last holder or waiter leaves.
package locker

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: map[string]*entry{}}
}

// Lock acquires the lock for key. The returned unlock must be called exactly
// once. If ctx ends first the lock is not held and the ctx error is returned.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
	}, nil
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// ConversationKey scopes a lock key to one conversation of one tenant.
func ConversationKey(tenantID, conversationID string) string {
	return tenantID + "\x00" + conversationID
}
