package docops

import (
	"context"
	"sync"
	"testing"

	"github.com/durable-streams/docops-processor/logsource"
	"github.com/durable-streams/docops-processor/opstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

// fakeOps is an in-memory OperationStore that can optionally block inside
// InsertMany until the test releases it, letting tests observe a
// pipeline's Draining state before completing the send.
type fakeOps struct {
	mu       sync.Mutex
	calls    [][]any
	blocking bool
	entered  chan struct{}
	proceed  chan struct{}
	failWith error
}

func newFakeOps(blocking bool) *fakeOps {
	return &fakeOps{
		blocking: blocking,
		entered:  make(chan struct{}, 64),
		proceed:  make(chan struct{}),
	}
}

func (f *fakeOps) InsertMany(ctx context.Context, docs []any) error {
	f.mu.Lock()
	f.calls = append(f.calls, docs)
	f.mu.Unlock()

	if f.blocking {
		f.entered <- struct{}{}
		<-f.proceed
	}
	return f.failWith
}

func (f *fakeOps) Close(context.Context) error { return nil }

func (f *fakeOps) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeContent struct {
	mu      sync.Mutex
	updates []struct {
		tenantID, documentID string
		seq                  int64
	}
}

func (f *fakeContent) UpdateSequenceNumber(ctx context.Context, tenantID, documentID string, sequenceNumber int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, struct {
		tenantID, documentID string
		seq                  int64
	}{tenantID, documentID, sequenceNumber})
	return nil
}

type fakeHost struct {
	mu          sync.Mutex
	checkpoints []int64
	errs        []error
}

func (h *fakeHost) Checkpoint(offset int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkpoints = append(h.checkpoints, offset)
}

func (h *fakeHost) Error(err error, restart bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *fakeHost) lastCheckpoint() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.checkpoints) == 0 {
		return -1
	}
	return h.checkpoints[len(h.checkpoints)-1]
}

func sequencedMessage(offset int64, tenantID, documentID, clientID string, clientSeq, seq int64, contents string) logsource.Message {
	payload := `{"type":"SequencedOperation","tenantId":"` + tenantID + `","documentId":"` + documentID +
		`","operation":{"contents":` + contents + `,"sequenceNumber":` + itoa(seq) +
		`,"clientId":"` + clientID + `","clientSequenceNumber":` + itoa(clientSeq) + `}}`
	return logsource.Message{Offset: offset, Value: []byte(payload)}
}

func heartbeatMessage(offset int64) logsource.Message {
	return logsource.Message{Offset: offset, Value: []byte(`{"type":"Heartbeat"}`)}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestScenarioA_SingleSequencedOp exercises spec scenario A: one sequenced
// op with no metadata is normalized (contents stringified, traces
// cleared) and its offset is eventually checkpointed.
func TestScenarioA_SingleSequencedOp(t *testing.T) {
	ops := newFakeOps(false)
	host := &fakeHost{}
	p := New(context.Background(), ops, nil, host, testLogger(), nil)

	p.Handle(sequencedMessage(10, "T", "D", "c", 1, 5, `{"x":1}`))

	c := <-p.primary.Completions()
	p.primary.Apply(c)

	require.Equal(t, 1, ops.callCount())
	require.Len(t, ops.calls[0], 1)
	rec, ok := ops.calls[0][0].(OpRecord)
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, rec.Operation.Contents)
	assert.Empty(t, rec.Operation.Traces)
	assert.Equal(t, int64(10), host.lastCheckpoint())
}

// TestScenarioB_BurstCoalescesIntoTwoSends exercises spec scenario B: a
// burst of 100 messages delivered before the first send completes
// coalesces into exactly two sends.
func TestScenarioB_BurstCoalescesIntoTwoSends(t *testing.T) {
	ops := newFakeOps(true)
	host := &fakeHost{}
	p := New(context.Background(), ops, nil, host, testLogger(), nil)

	p.Handle(sequencedMessage(1, "T", "D", "c", 1, 1, `{}`))
	<-ops.entered // first send is now in flight

	for offset := int64(2); offset <= 100; offset++ {
		p.Handle(sequencedMessage(offset, "T", "D", "c", offset, offset, `{}`))
	}

	ops.proceed <- struct{}{}
	c1 := <-p.primary.Completions()
	p.primary.Apply(c1)

	<-ops.entered // second send now in flight, covering offsets 2..100
	ops.proceed <- struct{}{}
	c2 := <-p.primary.Completions()
	p.primary.Apply(c2)

	require.Equal(t, 2, ops.callCount())
	assert.Len(t, ops.calls[0], 1)
	assert.Len(t, ops.calls[1], 99)
	assert.Equal(t, int64(100), host.lastCheckpoint())
}

// TestScenarioC_MixedTrafficInterleavedCheckpointing exercises spec
// scenario C: slow sequenced sends must not let the checkpoint run ahead
// of what is actually durable, but fast idle traffic completing in the
// meantime should not be held back either.
func TestScenarioC_MixedTrafficInterleavedCheckpointing(t *testing.T) {
	ops := newFakeOps(true)
	host := &fakeHost{}
	p := New(context.Background(), ops, nil, host, testLogger(), nil)

	p.Handle(sequencedMessage(1, "T", "D", "c", 1, 1, `{}`))
	<-ops.entered // offset 1's send is in flight and slow

	p.Handle(heartbeatMessage(2))
	ic1 := <-p.idle.Completions()
	p.idle.Apply(ic1)
	assert.LessOrEqual(t, host.lastCheckpoint(), int64(1))

	p.Handle(sequencedMessage(3, "T", "D", "c", 2, 2, `{}`))
	p.Handle(heartbeatMessage(4))
	ic2 := <-p.idle.Completions()
	p.idle.Apply(ic2)
	assert.LessOrEqual(t, host.lastCheckpoint(), int64(1))

	ops.proceed <- struct{}{}
	c1 := <-p.primary.Completions()
	p.primary.Apply(c1)

	<-ops.entered
	ops.proceed <- struct{}{}
	c2 := <-p.primary.Completions()
	p.primary.Apply(c2)

	assert.Equal(t, int64(4), host.lastCheckpoint())
}

// TestScenarioD_DuplicateOnReplaySwallowsError exercises spec scenario D:
// an all-duplicate bulk insert must not be treated as a batch failure.
func TestScenarioD_DuplicateOnReplaySwallowsError(t *testing.T) {
	ops := newFakeOps(false)
	ops.failWith = opstore.ErrDuplicateKey
	host := &fakeHost{}
	p := New(context.Background(), ops, nil, host, testLogger(), nil)

	p.Handle(sequencedMessage(5, "T", "D", "c", 1, 1, `{}`))
	c := <-p.primary.Completions()
	p.primary.Apply(c)

	assert.Empty(t, host.errs)
	assert.Equal(t, int64(5), host.lastCheckpoint())
}

// TestScenarioE_StorageFailureRetainsCurrentBatch exercises spec scenario
// E: a non-duplicate storage error is fatal to the batch, is reported
// exactly once, and the pipeline's current batch is not cleared.
func TestScenarioE_StorageFailureRetainsCurrentBatch(t *testing.T) {
	ops := newFakeOps(false)
	ops.failWith = assertAnError{}
	host := &fakeHost{}
	p := New(context.Background(), ops, nil, host, testLogger(), nil)

	p.Handle(sequencedMessage(9, "T", "D", "c", 1, 1, `{}`))
	c := <-p.primary.Completions()
	p.primary.Apply(c)

	require.Len(t, host.errs, 1)
	assert.Empty(t, host.checkpoints)
	snap := p.primary.Inspect()
	assert.True(t, snap.CurrentHasOffset)
}

// TestScenarioF_MalformedMessageDropsOffsetButLaterCheckpointWins
// exercises spec scenario F: a malformed message is logged and does not
// contribute to any pipeline's range, but a later valid message still
// advances the checkpoint.
func TestScenarioF_MalformedMessageDropsOffsetButLaterCheckpointWins(t *testing.T) {
	ops := newFakeOps(false)
	host := &fakeHost{}
	p := New(context.Background(), ops, nil, host, testLogger(), nil)

	bad := logsource.Message{Offset: 7, Value: []byte("not json")}
	p.Handle(bad)
	assert.Empty(t, host.checkpoints)

	p.Handle(sequencedMessage(8, "T", "D", "c", 1, 1, `{}`))
	c := <-p.primary.Completions()
	p.primary.Apply(c)

	assert.Equal(t, int64(8), host.lastCheckpoint())
}

// TestSplitMetadataUpdatesContentStoreWithHighestSequenceInGroup verifies
// that when a group contains more than one split-flagged operation, the
// content store is updated with the last (highest-offset) one's sequence
// number, not every one of them.
func TestSplitMetadataUpdatesContentStoreWithHighestSequenceInGroup(t *testing.T) {
	ops := newFakeOps(true)
	content := &fakeContent{}
	host := &fakeHost{}
	p := New(context.Background(), ops, content, host, testLogger(), nil)

	p.Handle(sequencedMessage(1, "T", "D", "c", 1, 1, `{}`))
	<-ops.entered

	p.Handle(splitMessage(2, "T", "D", "c", 2, 2))
	p.Handle(splitMessage(3, "T", "D", "c", 3, 3))

	ops.proceed <- struct{}{}
	c1 := <-p.primary.Completions()
	p.primary.Apply(c1)

	<-ops.entered
	ops.proceed <- struct{}{}
	c2 := <-p.primary.Completions()
	p.primary.Apply(c2)

	require.Len(t, content.updates, 1)
	assert.Equal(t, int64(3), content.updates[0].seq)
}

func splitMessage(offset int64, tenantID, documentID, clientID string, clientSeq, seq int64) logsource.Message {
	payload := `{"type":"SequencedOperation","tenantId":"` + tenantID + `","documentId":"` + documentID +
		`","operation":{"contents":{},"sequenceNumber":` + itoa(seq) +
		`,"clientId":"` + clientID + `","clientSequenceNumber":` + itoa(clientSeq) +
		`,"metadata":{"split":true}}}`
	return logsource.Message{Offset: offset, Value: []byte(payload)}
}

type assertAnError struct{}

func (assertAnError) Error() string { return "storage unavailable" }
