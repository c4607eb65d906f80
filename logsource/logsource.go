// Package logsource defines the contract the Processor's event loop
// reads from: an ordered stream of (offset, payload) tuples per
// partition. This package exists so the contract has a concrete Go
// shape, and so a real transport (logsource/kafka.go) can be swapped in
// at the edges without touching docops.
package logsource

import "context"

// Message is one delivery from the log: a monotonically increasing
// per-partition offset and its raw, UTF-8 JSON payload.
type Message struct {
	Offset int64
	Value  []byte
}

// Reader polls a single partition for the next batch of messages.
// Implementations must deliver messages to Poll's caller in offset
// order; they make no cross-partition ordering claim.
type Reader interface {
	// Poll blocks until at least one message is available, ctx is
	// cancelled, or an unrecoverable transport error occurs.
	Poll(ctx context.Context) ([]Message, error)

	// Close releases the reader's underlying connection.
	Close() error
}
