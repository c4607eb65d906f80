package docops

import "encoding/json"

// sequencedOperationType is the only message type routed to the primary
// pipeline; everything else is idle-routed.
const sequencedOperationType = "SequencedOperation"

// envelope is the inbound message payload shape, after JSON-parsing
// message.Value. Unknown fields are ignored.
type envelope struct {
	Type       string           `json:"type"`
	TenantID   string           `json:"tenantId"`
	DocumentID string           `json:"documentId"`
	Operation  operationPayload `json:"operation"`
}

// operationPayload is the nested "operation" object of a sequenced
// message.
type operationPayload struct {
	Traces               []json.RawMessage `json:"traces,omitempty"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	Contents             json.RawMessage   `json:"contents"`
	ClientID             string            `json:"clientId"`
	ClientSequenceNumber int64             `json:"clientSequenceNumber"`
	SequenceNumber       int64             `json:"sequenceNumber"`
}

// splitMetadataKey is the metadata field that marks an operation as
// requiring a content-record sequence number update.
const splitMetadataKey = "split"

func (op operationPayload) isSplit() bool {
	v, ok := op.Metadata[splitMetadataKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// NormalizedOperation is the durable shape of the "operation" sub-object
// once normalized: traces cleared, contents stringified when metadata is
// absent (back-compat).
type NormalizedOperation struct {
	Traces               []json.RawMessage `bson:"traces" json:"traces"`
	Metadata             map[string]any    `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Contents             any               `bson:"contents" json:"contents"`
	ClientID             string            `bson:"clientId" json:"clientId"`
	ClientSequenceNumber int64             `bson:"clientSequenceNumber" json:"clientSequenceNumber"`
	SequenceNumber       int64             `bson:"sequenceNumber" json:"sequenceNumber"`
}

// OpRecord is the normalized, durable shape of one sequenced operation:
// what actually gets inserted into the operation store.
type OpRecord struct {
	TenantID   string              `bson:"tenantId" json:"tenantId"`
	DocumentID string              `bson:"documentId" json:"documentId"`
	Offset     int64               `bson:"offset" json:"offset"`
	Operation  NormalizedOperation `bson:"operation" json:"operation"`

	split bool
}

// isSplit reports whether this operation's metadata requires a
// content-record sequence number update.
func (r OpRecord) isSplit() bool { return r.split }

// normalize converts a parsed envelope into the record the primary
// pipeline accumulates and eventually bulk-inserts.
func normalize(env envelope, offset int64) OpRecord {
	op := env.Operation

	normalized := NormalizedOperation{
		Traces:               []json.RawMessage{},
		Metadata:             op.Metadata,
		ClientID:             op.ClientID,
		ClientSequenceNumber: op.ClientSequenceNumber,
		SequenceNumber:       op.SequenceNumber,
	}

	if len(op.Metadata) == 0 {
		// Back-compat: an operation with no metadata stringifies its
		// contents rather than storing them as a nested document.
		normalized.Contents = string(op.Contents)
	} else {
		var v any
		if err := json.Unmarshal(op.Contents, &v); err == nil {
			normalized.Contents = v
		} else {
			normalized.Contents = string(op.Contents)
		}
	}

	return OpRecord{
		TenantID:   env.TenantID,
		DocumentID: env.DocumentID,
		Offset:     offset,
		Operation:  normalized,
		split:      op.isSplit(),
	}
}
