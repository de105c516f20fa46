package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/bartossh/Accreditor/transaction"
)

const unlockTimeout = 5 * time.Second

// Lock takes PostgreSQL session advisory locks for all the keys, so bots running
// against the same database never process the same transaction at once.
// The locks live on a dedicated connection. It goes back to the pool on release only
// when every lock was released, otherwise the session is closed which frees its locks.
func (db *DataBase) Lock(ctx context.Context, keys ...string) (func(), error) {
	ids := advisoryKeys(keys)
	if len(ids) == 0 {
		return nil, errors.Join(ErrLockFailed, errors.New("no keys"))
	}

	conn, err := db.inner.Conn(ctx)
	if err != nil {
		return nil, errors.Join(ErrLockFailed, err)
	}

	unlock := func(locked []int64, clean bool) {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		for i := len(locked) - 1; i >= 0 && clean; i-- {
			var released bool
			if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", locked[i]).Scan(&released); err != nil || !released {
				clean = false
			}
		}
		if !clean {
			conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}

	locked := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
			// A canceled wait may still be granted on the server, so the session is not reused.
			unlock(locked, false)
			return nil, errors.Join(ErrLockFailed, err)
		}
		locked = append(locked, id)
	}

	var once sync.Once
	return func() { once.Do(func() { unlock(locked, true) }) }, nil
}

// advisoryKeys maps lock keys to sorted unique advisory lock ids.
// Transaction keys use the transaction id, any other key is hashed in to the negative range
// so it never meets a transaction.
func advisoryKeys(keys []string) []int64 {
	set := make(map[int64]struct{}, len(keys))
	out := make([]int64, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		id := advisoryKey(k)
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func advisoryKey(key string) int64 {
	if id, ok := transaction.ParseLockKey(key); ok {
		return id
	}
	h := fnv.New64a()
	fmt.Fprint(h, key)
	return -int64(h.Sum64()>>1) - 1
}
