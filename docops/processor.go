// Package docops implements the Processor: the top-level lambda that
// classifies incoming log messages, routes sequenced operations and
// idle traffic to their respective BatchPipelines, and wires pipeline
// completion/error events through to the host's checkpoint and error
// callbacks.
//
// Processor.Run is the single logical execution context: it is the only
// place Add and a pipeline's send-completion continuation (Apply) are
// ever called, so neither pipeline.BatchPipeline nor
// pipelineset.PipelineSet need any locking of their own.
package docops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/durable-streams/docops-processor/keyedbatch"
	"github.com/durable-streams/docops-processor/logsource"
	"github.com/durable-streams/docops-processor/opstore"
	"github.com/durable-streams/docops-processor/pipeline"
	"github.com/durable-streams/docops-processor/pipelineset"
	"github.com/durable-streams/docops-processor/procmetrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HostContext is the checkpoint/error contract the processor reports
// back through.
type HostContext interface {
	// Checkpoint advances the durable log position to offset. Must
	// tolerate being called once per distinct emitted offset.
	Checkpoint(offset int64)

	// Error is the fatal error sink. When restart is true the host is
	// expected to terminate/restart the processor.
	Error(err error, restart bool)
}

// Processor is the top-level message handler: classify, route, and let
// its pipelines and PipelineSet do the rest.
type Processor struct {
	ops     opstore.OperationStore
	content opstore.ContentStore
	host    HostContext
	logger  *zap.Logger
	metrics *procmetrics.Metrics

	set     *pipelineset.PipelineSet
	primary *pipeline.BatchPipeline[DocKey, OpRecord]
	idle    *pipeline.BatchPipeline[idleKey, struct{}]
}

// New wires a Processor's pipelines and PipelineSet together. ctx bounds
// the lifetime of in-flight sends (see pipeline.New); it is not the
// context Run is called with.
func New(ctx context.Context, ops opstore.OperationStore, content opstore.ContentStore, host HostContext, logger *zap.Logger, metrics *procmetrics.Metrics) *Processor {
	p := &Processor{
		ops:     ops,
		content: content,
		host:    host,
		logger:  logger,
		metrics: metrics,
		set:     pipelineset.New(),
	}

	p.primary = pipeline.New[DocKey, OpRecord](ctx, encodeDocKey, decodeDocKey, p.primarySend)
	p.idle = pipeline.New[idleKey, struct{}](ctx, encodeIdleKey, decodeIdleKey, idleSend)

	p.primary.OnWorkComplete = func(offset int64) { p.set.Recompute() }
	p.primary.OnError = func(err error) { p.set.ReportError(err) }
	p.idle.OnWorkComplete = func(offset int64) { p.set.Recompute() }
	p.idle.OnError = func(err error) { p.set.ReportError(err) }

	p.set.Track(p.primary)
	p.set.Track(p.idle)
	p.set.OnOffsetChanged = func(offset int64) {
		if p.metrics != nil {
			p.metrics.CheckpointOffset.Set(float64(offset))
		}
		p.host.Checkpoint(offset)
	}
	p.set.OnError = func(err error) {
		p.host.Error(err, true)
	}

	return p
}

// idleSend is the no-op, immediately-completing sender for non-sequenced
// traffic: its only purpose is to let the checkpoint advance past
// messages that are never persisted.
func idleSend(context.Context, *keyedbatch.Batch[idleKey, struct{}]) error {
	return nil
}

// Handle decodes, classifies, and routes one inbound message. Parse
// failures are logged and the offset is dropped from routing entirely:
// it does not contribute to any pipeline's range, so the checkpoint may
// jump past it once a later well-formed message completes.
func (p *Processor) Handle(msg logsource.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		if p.metrics != nil {
			p.metrics.ParseErrorsTotal.Inc()
		}
		p.logger.Warn("dropping malformed message",
			zap.Int64("offset", msg.Offset),
			zap.Error(fmt.Errorf("%w: %v", ErrMalformedMessage, err)),
		)
		return
	}

	if env.Type == sequencedOperationType {
		record := normalize(env, msg.Offset)
		key := DocKey{TenantID: env.TenantID, DocumentID: env.DocumentID}
		p.primary.Add(key, record, msg.Offset)
		if p.metrics != nil {
			p.metrics.MessagesTotal.WithLabelValues("primary").Inc()
		}
		return
	}

	p.idle.Add(idleKey{}, struct{}{}, msg.Offset)
	if p.metrics != nil {
		p.metrics.MessagesTotal.WithLabelValues("idle").Inc()
	}
}

// Run drives the single execution context: it pulls messages from
// reader, routes them through Handle, and applies pipeline send
// completions as they arrive, until ctx is cancelled or reader.Poll
// returns an error.
func (p *Processor) Run(ctx context.Context, reader logsource.Reader) error {
	msgs := make(chan logsource.Message, 256)
	pollErrs := make(chan error, 1)

	go func() {
		defer close(msgs)
		for {
			batch, err := reader.Poll(ctx)
			if err != nil {
				pollErrs <- err
				return
			}
			for _, m := range batch {
				select {
				case msgs <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pollErrs:
			return err
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			p.Handle(msg)
		case c := <-p.primary.Completions():
			p.primary.Apply(c)
		case c := <-p.idle.Completions():
			p.idle.Apply(c)
		}
	}
}

// Close flips both pipelines to Closed. In-flight sends are allowed to
// complete; Run's caller is responsible for draining remaining
// completions afterward.
func (p *Processor) Close() {
	p.primary.Close()
	p.idle.Close()
}

// primarySend is the sender bound to the primary pipeline: for each
// routing group it concurrently bulk-inserts every operation and, if any
// operation carries split metadata, updates the content record once with
// the sequence number of the group's last split-flagged operation.
func (p *Processor) primarySend(ctx context.Context, batch *keyedbatch.Batch[DocKey, OpRecord]) error {
	if p.metrics != nil {
		p.metrics.BatchSize.WithLabelValues("primary").Observe(float64(batch.Len()))
	}
	start := time.Now()
	err := batch.Map(ctx, p.sendGroup)
	if p.metrics != nil {
		p.metrics.SendDuration.WithLabelValues("primary").Observe(time.Since(start).Seconds())
	}
	return err
}

func (p *Processor) sendGroup(ctx context.Context, key DocKey, values []OpRecord) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		docs := make([]any, len(values))
		for i, v := range values {
			docs[i] = v
		}
		if err := p.ops.InsertMany(gctx, docs); err != nil {
			if errors.Is(err, opstore.ErrDuplicateKey) {
				return nil
			}
			if p.metrics != nil {
				p.metrics.StorageErrorTotal.WithLabelValues("operations").Inc()
			}
			return &SendError{Pipeline: "primary", Key: encodeDocKey(key), Err: err}
		}
		return nil
	})

	if p.content != nil {
		g.Go(func() error {
			latestSplitSeq := int64(-1)
			for _, v := range values {
				if v.isSplit() {
					latestSplitSeq = v.Operation.SequenceNumber
				}
			}
			if latestSplitSeq < 0 {
				return nil
			}
			if err := p.content.UpdateSequenceNumber(gctx, key.TenantID, key.DocumentID, latestSplitSeq); err != nil {
				if errors.Is(err, opstore.ErrDuplicateKey) {
					return nil
				}
				if p.metrics != nil {
					p.metrics.StorageErrorTotal.WithLabelValues("content").Inc()
				}
				return &SendError{Pipeline: "primary", Key: encodeDocKey(key), Err: err}
			}
			return nil
		})
	}

	return g.Wait()
}
