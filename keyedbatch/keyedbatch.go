// Package keyedbatch accumulates values grouped by a routing key, where
// the key type is made concrete through an explicit encoder rather than
// a duck-typed/Stringer constraint (see the "explicit encoder" design
// note this project carries forward from its source).
package keyedbatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Encoder maps a key K to a stable, lossless string form. Two equal keys
// must encode to the same string so that they collide into one group.
type Encoder[K any] func(K) string

// Decoder reconstructs a key from its encoded string form. It is the
// Encoder's inverse and is only ever applied to strings this package
// itself produced.
type Decoder[K any] func(string) K

// Batch accumulates values of type V keyed by K, preserving insertion
// order within each group.
type Batch[K any, V any] struct {
	encode Encoder[K]
	decode Decoder[K]

	order []string
	keys  map[string]K
	items map[string][]V
}

// New creates an empty Batch using the given encoder/decoder pair.
func New[K any, V any](encode Encoder[K], decode Decoder[K]) *Batch[K, V] {
	return &Batch[K, V]{
		encode: encode,
		decode: decode,
		keys:   make(map[string]K),
		items:  make(map[string][]V),
	}
}

// Add appends v to the group for id, creating the group if it does not
// yet exist. Order of Add calls within a group is preserved.
func (b *Batch[K, V]) Add(id K, v V) {
	enc := b.encode(id)
	if _, ok := b.items[enc]; !ok {
		b.order = append(b.order, enc)
		b.keys[enc] = id
	}
	b.items[enc] = append(b.items[enc], v)
}

// Len reports the number of distinct groups.
func (b *Batch[K, V]) Len() int {
	return len(b.order)
}

// IsEmpty reports whether the batch has no groups.
func (b *Batch[K, V]) IsEmpty() bool {
	return len(b.order) == 0
}

// Clear drops all groups, returning the batch to its empty state.
func (b *Batch[K, V]) Clear() {
	b.order = nil
	b.keys = make(map[string]K)
	b.items = make(map[string][]V)
}

// GroupFunc is invoked once per group during Map. It must return once the
// group's work has completed (or failed).
type GroupFunc[K any, V any] func(ctx context.Context, key K, values []V) error

// Group is a decoded snapshot of one key's accumulated values, used by
// callers that need to inspect a batch without invoking Map (tests,
// diagnostics).
type Group[K any, V any] struct {
	Key    K
	Values []V
}

// Groups returns a decoded snapshot of every group in insertion order.
func (b *Batch[K, V]) Groups() []Group[K, V] {
	out := make([]Group[K, V], 0, len(b.order))
	for _, enc := range b.order {
		out = append(out, Group[K, V]{Key: b.decode(enc), Values: b.items[enc]})
	}
	return out
}

// Map dispatches fn concurrently over every group and waits for all
// invocations to complete. If any invocation fails, Map returns the
// first observed error; the others are still allowed to finish.
func (b *Batch[K, V]) Map(ctx context.Context, fn GroupFunc[K, V]) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, enc := range b.order {
		key := b.keys[enc]
		values := b.items[enc]
		g.Go(func() error {
			return fn(gctx, key, values)
		})
	}
	return g.Wait()
}
