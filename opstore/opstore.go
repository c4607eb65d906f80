// Package opstore defines the durable storage contracts the Processor
// writes sequenced operations through: an operation store for the
// append-only operation log, and an optional content store for the
// authoritative per-document sequence number used by split-metadata
// operations.
package opstore

import (
	"context"
	"errors"
)

// ErrDuplicateKey is the sentinel a Store implementation must satisfy
// (via errors.Is) when an insert or update collides with an existing
// document. Replays on restart are expected and legitimate: duplicates
// are swallowed by the caller, never treated as failures.
var ErrDuplicateKey = errors.New("opstore: duplicate key")

// OperationStore persists sequenced operations. When the only failures
// in an InsertMany call are duplicate-key collisions — whether some or
// all of the documents collided — implementations wrap ErrDuplicateKey
// without saying which documents collided, since the host treats
// duplicates as benign regardless of which entries they were.
type OperationStore interface {
	// InsertMany performs an unordered bulk insert of docs. If every
	// write failure in the call was a duplicate-key collision (the other
	// documents having been inserted), InsertMany returns an error
	// satisfying errors.Is(err, ErrDuplicateKey). Any other failure is
	// returned as-is and is fatal to the batch.
	InsertMany(ctx context.Context, docs []any) error

	// Close releases the store's underlying connection.
	Close(ctx context.Context) error
}

// ContentStore updates the authoritative sequence number recorded
// against a document's content record. A nil ContentStore is valid: the
// Processor skips split-metadata updates when content tracking is not
// configured (back-compat).
type ContentStore interface {
	// UpdateSequenceNumber upserts the sequence number for
	// (tenantID, documentID). Returns an error satisfying
	// errors.Is(err, ErrDuplicateKey) if the update collided with a
	// concurrent writer's unique constraint; any other failure is fatal.
	UpdateSequenceNumber(ctx context.Context, tenantID, documentID string, sequenceNumber int64) error
}
