package remote

import (
	"context"
	"fmt"

	"ubuild/internal/cache"
	"ubuild/internal/console"
	"ubuild/internal/sched"
)

// Mirror copies cache entries between the local store and a bucket.
// Entries are immutable once written, so only missing keys are copied.
type Mirror struct {
	Store  *cache.Store
	Bucket Bucket
	Prefix string
	Sched  *sched.Scheduler
	Log    *console.Logger
}

func (m *Mirror) remoteKeys(ctx context.Context) (map[string]bool, error) {
	objects, err := m.Bucket.List(ctx, m.Prefix)
	if err != nil {
		return nil, fmt.Errorf("listing remote cache: %w", err)
	}
	keys := make(map[string]bool, len(objects))
	for _, o := range objects {
		if k, ok := cacheKey(o); ok {
			keys[k] = true
		}
	}
	return keys, nil
}

// Push uploads local entries the bucket lacks and returns how many were
// uploaded.
func (m *Mirror) Push(ctx context.Context) (int, error) {
	remote, err := m.remoteKeys(ctx)
	if err != nil {
		return 0, err
	}
	local, err := m.Store.Keys()
	if err != nil {
		return 0, err
	}
	var todo []string
	for _, k := range local {
		if !remote[k] {
			todo = append(todo, k)
		}
	}
	err = sched.Each(ctx, m.Sched, "push", todo, func(ctx context.Context, key string) error {
		raw, err := m.Store.ReadRaw(key)
		if err != nil {
			return err
		}
		m.Log.Step("push", key)
		return m.Bucket.Put(ctx, objectKey(m.Prefix, key), raw)
	})
	return len(todo), err
}

// Pull downloads entries the local store lacks and returns how many were
// stored. Objects that do not decode to the entry they are named after
// are skipped with a warning.
func (m *Mirror) Pull(ctx context.Context) (int, error) {
	remote, err := m.remoteKeys(ctx)
	if err != nil {
		return 0, err
	}
	local, err := m.Store.Keys()
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(local))
	for _, k := range local {
		have[k] = true
	}
	var todo []string
	for k := range remote {
		if !have[k] {
			todo = append(todo, k)
		}
	}

	stored, err := sched.Map(ctx, m.Sched, "pull", todo, func(ctx context.Context, key string) (bool, error) {
		raw, err := m.Bucket.Get(ctx, objectKey(m.Prefix, key))
		if err != nil {
			return false, err
		}
		if err := m.Store.WriteRaw(key, raw); err != nil {
			m.Log.Warn("%v", err)
			return false, nil
		}
		m.Log.Step("pull", key)
		return true, nil
	})
	n := 0
	for _, ok := range stored {
		if ok {
			n++
		}
	}
	return n, err
}
