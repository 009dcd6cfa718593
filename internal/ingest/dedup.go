package ingest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Candidate is an entity awaiting insertion, keyed by its dedup identity.
type Candidate[T any] struct {
	Key   string
	Value T
}

// LookupFunc returns the subset of keys already present in the store.
type LookupFunc func(ctx context.Context, keys []string) (map[string]struct{}, error)

// Lookup controls how existing keys are fetched. Chunks run in parallel; they
// only read.
type Lookup struct {
	ChunkSize int
	Workers   int
}

func (l Lookup) normalized() Lookup {
	if l.ChunkSize <= 0 {
		l.ChunkSize = 500
	}
	if l.Workers <= 0 {
		l.Workers = 1
	}
	return l
}

// NewOnly returns the candidates whose key is not yet stored, in input order,
// keeping only the first occurrence of a key repeated within the batch.
func NewOnly[T any](ctx context.Context, candidates []Candidate[T], existing LookupFunc, opts Lookup) ([]Candidate[T], error) {
	unique := make([]Candidate[T], 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Key]; dup {
			continue
		}
		seen[c.Key] = struct{}{}
		unique = append(unique, c)
	}
	if len(unique) == 0 {
		return unique, nil
	}

	keys := make([]string, 0, len(unique))
	for _, c := range unique {
		keys = append(keys, c.Key)
	}

	found, err := lookupChunked(ctx, keys, existing, opts)
	if err != nil {
		return nil, err
	}

	out := unique[:0]
	for _, c := range unique {
		if _, ok := found[c.Key]; ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func lookupChunked(ctx context.Context, keys []string, existing LookupFunc, opts Lookup) (map[string]struct{}, error) {
	opts = opts.normalized()

	chunks := chunk(keys, opts.ChunkSize)
	results := make([]map[string]struct{}, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, part := range chunks {
		g.Go(func() error {
			hits, err := existing(gctx, part)
			if err != nil {
				return fmt.Errorf("lookup existing keys: %w", err)
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]struct{}, len(keys))
	for _, hits := range results {
		for k := range hits {
			merged[k] = struct{}{}
		}
	}
	return merged, nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/max(size, 1))
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
