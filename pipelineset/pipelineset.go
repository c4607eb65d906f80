// Package pipelineset derives the single checkpoint offset safe to
// commit across several independently-draining BatchPipelines sharing
// one log stream.
package pipelineset

import (
	"fmt"

	"github.com/durable-streams/docops-processor/offsetrange"
)

// ranger is the subset of pipeline.BatchPipeline that PipelineSet needs.
// Kept as an interface (rather than importing the generic pipeline type
// directly) so one PipelineSet can hold pipelines over different K/V
// type parameters, exactly as docops.Processor does with its primary and
// idle pipelines.
type ranger interface {
	Range() offsetrange.Range
}

// PipelineSet holds a set of pipelines that share one log stream and
// derives the offset that is safe to checkpoint on that stream.
type PipelineSet struct {
	pipelines  []ranger
	lastOffset int64

	// OnOffsetChanged fires whenever the derived checkpoint offset
	// advances. OnError re-emits any pipeline's error.
	OnOffsetChanged func(offset int64)
	OnError         func(err error)
}

// New creates an empty PipelineSet.
func New() *PipelineSet {
	return &PipelineSet{lastOffset: offsetrange.NegInf}
}

// Track registers a pipeline with the set. The pipeline's own OnError and
// OnWorkComplete callbacks must be wired by the caller to call
// PipelineSet.ReportError and PipelineSet.Recompute respectively — Track
// only adds the pipeline to the set used for offset derivation, since
// BatchPipeline is generic over (K, V) and PipelineSet is not.
func (s *PipelineSet) Track(p ranger) {
	s.pipelines = append(s.pipelines, p)
}

// ReportError re-emits a pipeline error through the set's OnError
// callback.
func (s *PipelineSet) ReportError(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

// Recompute derives the checkpoint offset from the union of every
// tracked pipeline's range and, if it advanced, emits OnOffsetChanged.
// Call this after every pipeline workComplete event.
//
// A pipeline whose range has collapsed to a single point (tail == head)
// has nothing outstanding — every offset it has ever seen is already
// durable — so it contributes nothing to the union even though its
// range is not the sentinel-empty range. Only a pipeline with a
// genuine [tail, head) gap (unflushed data newer than its last
// completed send) can hold the derived offset back; every pipeline's
// head, idle or not, still counts toward maxHead.
func (s *PipelineSet) Recompute() {
	maxHead := s.lastOffset
	union := offsetrange.Empty()

	for _, p := range s.pipelines {
		r := p.Range()
		if r.Head > maxHead {
			maxHead = r.Head
		}
		if r.Tail != r.Head {
			union = offsetrange.Union(union, r)
		}
	}

	offset := maxHead
	if !union.IsEmpty() {
		offset = union.Tail
	}

	if offset < s.lastOffset {
		panic(fmt.Sprintf("pipelineset: checkpoint invariant violated: derived offset %d < lastOffset %d", offset, s.lastOffset))
	}

	if offset != s.lastOffset {
		s.lastOffset = offset
		if s.OnOffsetChanged != nil {
			s.OnOffsetChanged(offset)
		}
	}
}

// LastOffset returns the most recently emitted checkpoint offset (or
// offsetrange.NegInf if none has been emitted yet).
func (s *PipelineSet) LastOffset() int64 {
	return s.lastOffset
}

// Close closes every tracked pipeline that supports it.
func (s *PipelineSet) Close() {
	for _, p := range s.pipelines {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
