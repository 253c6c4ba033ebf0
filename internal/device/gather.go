package device

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// WaitForConnection runs every connect concurrently and waits for all of them.
// It never stops at the first failure: the returned *NotConnectedError names
// every failing entry with its cause.
func WaitForConnection(ctx context.Context, connects map[string]func(context.Context) error) error {
	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for name, connect := range connects {
		g.Go(func() error {
			err := connect(ctx)
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrNotConnected) {
				log.Error().Str("device", name).Err(err).Msg("device connect failed")
			}
			mu.Lock()
			failures[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return &NotConnectedError{Failures: failures}
	}
	return nil
}

// MergeGatheredDicts runs every source concurrently and unions their results.
// Sources are expected to own disjoint keys; any collision is a *DuplicateKeyError.
func MergeGatheredDicts[V any](ctx context.Context, sources ...func(context.Context) (map[string]V, error)) (map[string]V, error) {
	results := make([]map[string]V, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		g.Go(func() error {
			m, err := source(gctx)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]V)
	owner := make(map[string]int)
	for i, m := range results {
		for _, key := range slices.Sorted(maps.Keys(m)) {
			if first, dup := owner[key]; dup {
				return nil, &DuplicateKeyError{Key: key, First: first, Second: i}
			}
			owner[key] = i
			merged[key] = m[key]
		}
	}
	return merged, nil
}
