// Package vocab resolves labels to stable store identifiers, creating the
// ones that do not exist yet.
package vocab

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

// Resolver turns label sets into id maps through a write-through cache.
type Resolver struct {
	store   store.Store
	cache   *Cache
	preload bool
	log     zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPreload loads every existing label of a kind into the cache the first
// time the kind is resolved.
func WithPreload(on bool) Option {
	return func(r *Resolver) { r.preload = on }
}

// WithLogger sets the resolver's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithCache shares an existing cache.
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver creates a resolver over s.
func NewResolver(s store.Store, opts ...Option) *Resolver {
	r := &Resolver{store: s, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	return r
}

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolution is the outcome of resolving one label set inside a
// transaction. Ids are only written to the cache by Commit, after the
// transaction has committed.
type Resolution struct {
	IDs     map[string]int64
	Created int

	kind    string
	cache   *Cache
	pending map[string]int64
}

// Commit publishes the ids learned in the transaction to the cache. Call it
// only once the transaction has committed.
func (res *Resolution) Commit() {
	if res == nil || res.cache == nil {
		return
	}
	res.cache.put(res.kind, res.pending)
	res.pending = nil
}

// Resolve returns an id for every label. Cached labels cost nothing; the
// rest are looked up in one query and the missing ones created in one
// batch insert. When a concurrent writer creates one of the missing labels
// first, the insert fails with a unique conflict and the caller is expected
// to retry its whole transaction.
func (r *Resolver) Resolve(ctx context.Context, tx store.Tx, kind store.Kind, labels []string) (*Resolution, error) {
	if r.preload && !r.cache.isLoaded(kind.Name) {
		all, err := r.store.Labels(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("preload %s labels: %w", kind.Name, err)
		}
		r.cache.put(kind.Name, all)
		r.cache.markLoaded(kind.Name)
		r.log.Debug().Str("kind", kind.Name).Int("labels", len(all)).Msg("label cache preloaded")
	}

	labels = distinct(labels)
	ids, misses := r.cache.split(kind.Name, labels)
	res := &Resolution{
		IDs:     ids,
		kind:    kind.Name,
		cache:   r.cache,
		pending: make(map[string]int64, len(misses)),
	}
	if len(misses) == 0 {
		return res, nil
	}

	found, err := tx.LookupLabels(ctx, kind, misses)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, l := range misses {
		if id, ok := found[l]; ok {
			ids[l] = id
			res.pending[l] = id
		} else {
			missing = append(missing, l)
		}
	}

	if len(missing) > 0 {
		created, err := tx.InsertLabels(ctx, kind, missing)
		if err != nil {
			return nil, err
		}
		for l, id := range created {
			ids[l] = id
			res.pending[l] = id
		}
		res.Created = len(created)
	}

	for _, l := range labels {
		if _, ok := ids[l]; !ok {
			return nil, fmt.Errorf("%s label %q has no id after insert", kind.Name, l)
		}
	}
	return res, nil
}

// distinct returns the unique labels in sorted order.
func distinct(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
