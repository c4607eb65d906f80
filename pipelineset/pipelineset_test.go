package pipelineset

import (
	"testing"

	"github.com/durable-streams/docops-processor/offsetrange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	rng offsetrange.Range
}

func (f *fakePipeline) Range() offsetrange.Range { return f.rng }

func TestRecompute_AllIdleAdvancesToMaxHead(t *testing.T) {
	a := &fakePipeline{rng: offsetrange.Range{Tail: 10, Head: 10}}
	b := &fakePipeline{rng: offsetrange.Empty()}

	s := New()
	s.Track(a)
	s.Track(b)

	var got int64 = -999
	s.OnOffsetChanged = func(offset int64) { got = offset }
	s.Recompute()

	assert.Equal(t, int64(10), got)
	assert.Equal(t, int64(10), s.LastOffset())
}

func TestRecompute_UnionTailWhenSomeDraining(t *testing.T) {
	slow := &fakePipeline{rng: offsetrange.Range{Tail: 0, Head: 3}} // still draining offsets 1..3
	fast := &fakePipeline{rng: offsetrange.Range{Tail: 4, Head: 4}}

	s := New()
	s.Track(slow)
	s.Track(fast)

	var got int64
	var calls int
	s.OnOffsetChanged = func(offset int64) { got = offset; calls++ }
	s.Recompute()

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(0), got, "checkpoint may not exceed the tail of the slowest pipeline")
}

func TestRecompute_MonotonicAndDeduplicated(t *testing.T) {
	p := &fakePipeline{rng: offsetrange.Range{Tail: 1, Head: 1}}
	s := New()
	s.Track(p)

	var calls []int64
	s.OnOffsetChanged = func(offset int64) { calls = append(calls, offset) }

	s.Recompute()
	s.Recompute() // unchanged range -> no duplicate emission
	require.Len(t, calls, 1)

	p.rng = offsetrange.Range{Tail: 5, Head: 5}
	s.Recompute()
	require.Len(t, calls, 2)
	assert.Equal(t, []int64{1, 5}, calls)
}

func TestRecompute_CaughtUpPipelinesDoNotDragDownAnOtherwiseIdleSet(t *testing.T) {
	// Both pipelines have fully flushed everything they ever saw, but at
	// different offsets — neither has a genuine gap, so the derived
	// offset should reach the highest head seen anywhere, not the lower
	// of the two points.
	a := &fakePipeline{rng: offsetrange.Range{Tail: 3, Head: 3}}
	b := &fakePipeline{rng: offsetrange.Range{Tail: 4, Head: 4}}

	s := New()
	s.Track(a)
	s.Track(b)

	s.Recompute()

	assert.Equal(t, int64(4), s.LastOffset())
}

func TestRecompute_PanicsOnInvariantViolation(t *testing.T) {
	p := &fakePipeline{rng: offsetrange.Range{Tail: 0, Head: 5}}
	s := New()
	s.Track(p)
	s.Recompute()
	require.Equal(t, int64(0), s.LastOffset())

	// Simulate an impossible regression in a tracked pipeline's range.
	p.rng = offsetrange.Range{Tail: -5, Head: -1}
	assert.Panics(t, func() { s.Recompute() })
}
