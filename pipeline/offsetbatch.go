package pipeline

import (
	"math"

	"github.com/durable-streams/docops-processor/keyedbatch"
)

// unsetOffset marks an OffsetBatch that has never had a value added.
const unsetOffset = math.MinInt64

// offsetBatch pairs a keyedbatch.Batch with the highest log offset that
// contributed to it. isEmpty is equivalent to "offset is unset".
type offsetBatch[K any, V any] struct {
	batch  *keyedbatch.Batch[K, V]
	offset int64
}

func newOffsetBatch[K any, V any](encode keyedbatch.Encoder[K], decode keyedbatch.Decoder[K]) *offsetBatch[K, V] {
	return &offsetBatch[K, V]{
		batch:  keyedbatch.New[K, V](encode, decode),
		offset: unsetOffset,
	}
}

func (o *offsetBatch[K, V]) isEmpty() bool {
	return o.offset == unsetOffset
}

// add appends (id, v) to the batch and records offset as the highest
// contributing offset seen so far.
func (o *offsetBatch[K, V]) add(id K, v V, offset int64) {
	o.batch.Add(id, v)
	o.offset = offset
}

// clear resets the batch to its empty state.
func (o *offsetBatch[K, V]) clear() {
	o.batch.Clear()
	o.offset = unsetOffset
}
