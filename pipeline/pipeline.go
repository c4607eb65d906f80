// Package pipeline implements the double-buffered send loop that
// accumulates keyed values into a "pending" batch while a "current"
// batch drains to storage, and tracks the contiguous range of offsets
// that are durable versus merely accumulated.
//
// A BatchPipeline has no internal locking. Add and Apply (the
// continuation of a completed send) must both be invoked from the same
// logical execution context — see the package doc of docops for how the
// owning Processor's single event loop provides that guarantee. Running
// Add concurrently with Apply, or Apply concurrently with itself, is
// undefined behavior by design: the state machine depends on the
// atomicity of "swap current/pending and update the range" relative to
// Add.
package pipeline

import (
	"context"

	"github.com/durable-streams/docops-processor/keyedbatch"
	"github.com/durable-streams/docops-processor/offsetrange"
)

// Sender performs the durable write for one drained batch. It is invoked
// off the owning loop's goroutine; its result is delivered back onto
// that loop through Completions/Apply.
type Sender[K any, V any] func(ctx context.Context, batch *keyedbatch.Batch[K, V]) error

// Completion is the result of one drained send, handed back to the
// pipeline via Apply. Its fields are unexported: callers only ever
// round-trip a Completion from Completions() to Apply().
type Completion struct {
	offset int64
	err    error
}

// State is the pipeline's position in its state machine.
type State int

const (
	// Idle: pending and current are both empty. The range is empty before
	// the first Add and a single point (tail == head) once everything
	// added so far has drained.
	Idle State = iota
	// Accumulating: pending is non-empty, current is empty.
	Accumulating
	// Draining: current is non-empty, a send is in flight.
	Draining
	// Closed: no further sends will be initiated.
	Closed
)

// BatchPipeline is a single double-buffered send loop bound to one
// Sender and one Range.
type BatchPipeline[K any, V any] struct {
	ctx  context.Context
	send Sender[K, V]

	pending *offsetBatch[K, V]
	current *offsetBatch[K, V]
	rng     offsetrange.Range
	closed  bool

	completions chan Completion

	// OnWorkComplete fires after a successful send, with the highest
	// offset it contained. OnError fires when a send fails; the pipeline
	// does not retry and does not advance past the failed batch.
	OnWorkComplete func(offset int64)
	OnError        func(err error)
}

// New creates an empty BatchPipeline. ctx bounds the lifetime of sends
// issued by the pipeline; it is not cancelled by Close, so an in-flight
// send is allowed to complete.
func New[K any, V any](ctx context.Context, encode keyedbatch.Encoder[K], decode keyedbatch.Decoder[K], send Sender[K, V]) *BatchPipeline[K, V] {
	return &BatchPipeline[K, V]{
		ctx:         ctx,
		send:        send,
		pending:     newOffsetBatch[K, V](encode, decode),
		current:     newOffsetBatch[K, V](encode, decode),
		rng:         offsetrange.Empty(),
		completions: make(chan Completion, 1),
	}
}

// Range returns the pipeline's current [tail, head] interval.
func (p *BatchPipeline[K, V]) Range() offsetrange.Range {
	return p.rng
}

// State reports the pipeline's current state machine position.
func (p *BatchPipeline[K, V]) State() State {
	switch {
	case p.closed:
		return Closed
	case !p.current.isEmpty():
		return Draining
	case !p.pending.isEmpty():
		return Accumulating
	default:
		return Idle
	}
}

// Snapshot is a diagnostic view of the pipeline, used by tests to assert
// on retained in-flight state after a send failure.
type Snapshot struct {
	State            State
	Range            offsetrange.Range
	CurrentGroups    int
	CurrentHasOffset bool
}

// Inspect returns a snapshot of the pipeline's internal state.
func (p *BatchPipeline[K, V]) Inspect() Snapshot {
	return Snapshot{
		State:            p.State(),
		Range:            p.rng,
		CurrentGroups:    p.current.batch.Len(),
		CurrentHasOffset: !p.current.isEmpty(),
	}
}

// Completions returns the channel that delivers send results. The owner
// must drain it on its single event-loop goroutine and call Apply for
// each Completion received, in order.
func (p *BatchPipeline[K, V]) Completions() <-chan Completion {
	return p.completions
}

// Add records (id, value) at offset into the pipeline. offset must be
// monotonically non-decreasing across calls (enforced by the log
// upstream, not by this type).
func (p *BatchPipeline[K, V]) Add(id K, value V, offset int64) {
	wasEmpty := p.rng.IsEmpty()
	p.rng.Head = offset
	if wasEmpty {
		// The lowest offset the host could checkpoint right now is
		// offset-1: this message is not yet durable.
		p.rng.Tail = offset - 1
	}
	p.pending.add(id, value, offset)
	p.requestSend()
}

// requestSend starts draining pending if no send is currently in flight.
func (p *BatchPipeline[K, V]) requestSend() {
	if !p.current.isEmpty() {
		return
	}
	p.sendPending()
}

// sendPending swaps pending into current and dispatches the send. No-op
// if closed or if pending is empty.
func (p *BatchPipeline[K, V]) sendPending() {
	if p.closed {
		return
	}
	if p.pending.isEmpty() {
		return
	}

	p.current, p.pending = p.pending, p.current
	offset := p.current.offset
	batch := p.current.batch

	go func() {
		err := p.send(p.ctx, batch)
		p.completions <- Completion{offset: offset, err: err}
	}()
}

// Apply applies one Completion received from Completions(). It must run
// on the same goroutine as Add.
func (p *BatchPipeline[K, V]) Apply(c Completion) {
	if c.err != nil {
		if p.OnError != nil {
			p.OnError(c.err)
		}
		return
	}

	p.rng.Tail = c.offset
	p.current.clear()
	if p.OnWorkComplete != nil {
		p.OnWorkComplete(c.offset)
	}
	p.sendPending()
}

// Close flips the pipeline to Closed: no further sends are initiated. A
// send already in flight is allowed to complete, and its Apply
// continuation still updates the range and fires OnWorkComplete/OnError
// normally.
func (p *BatchPipeline[K, V]) Close() {
	p.closed = true
}
