package mutex

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNoKeys = errors.New("at least one key is required")

type entry struct {
	c    chan struct{}
	refs int
}

// Keyed is an in-process mutual exclusion lock scoped by string keys.
// Locks on different keys never contend. It is not reentrant.
type Keyed struct {
	mux   sync.Mutex
	locks map[string]*entry
}

// New creates a new Keyed lock.
func New() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock blocks until all the keys are locked or the context is done.
// Keys are locked in sorted order so two callers locking overlapping sets cannot deadlock.
// The returned release function unlocks all the keys and is safe to call more than once.
func (k *Keyed) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	locked := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := k.acquire(ctx, key); err != nil {
			for i := len(locked) - 1; i >= 0; i-- {
				k.release(locked[i])
			}
			return nil, err
		}
		locked = append(locked, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(locked) - 1; i >= 0; i-- {
				k.release(locked[i])
			}
		})
	}, nil
}

// Len returns the number of keys that are locked or awaited.
func (k *Keyed) Len() int {
	k.mux.Lock()
	defer k.mux.Unlock()
	return len(k.locks)
}

func (k *Keyed) acquire(ctx context.Context, key string) error {
	k.mux.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{c: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mux.Unlock()

	select {
	case e.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.drop(key, e)
		return ctx.Err()
	}
}

func (k *Keyed) release(key string) {
	k.mux.Lock()
	e, ok := k.locks[key]
	k.mux.Unlock()
	if !ok {
		return
	}
	<-e.c
	k.drop(key, e)
}

func (k *Keyed) drop(key string, e *entry) {
	k.mux.Lock()
	defer k.mux.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func normalize(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := set[key]; ok {
			continue
		}
		set[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
