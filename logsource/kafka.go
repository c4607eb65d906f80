package logsource

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// KafkaReaderConfig configures a KafkaReader.
type KafkaReaderConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// KafkaReader implements Reader over a single franz-go client consuming
// one topic as part of a consumer group. Partition assignment is handled
// by the client. Auto-commit is disabled: offsets are committed through
// CommitUpTo, and when partitions are revoked the client commits every
// offset polled so far. Poll translates fetched records into
// logsource.Message values.
type KafkaReader struct {
	client      *kgo.Client
	instanceID  string
	logger      *zap.Logger
}

// NewKafkaReader dials brokers and joins cfg.ConsumerGroup for cfg.Topic.
func NewKafkaReader(cfg KafkaReaderConfig, logger *zap.Logger) (*KafkaReader, error) {
	instanceID := uuid.NewString()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.InstanceID(instanceID),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsRevoked(func(ctx context.Context, c *kgo.Client, _ map[string][]int32) {
			if err := c.CommitUncommittedOffsets(ctx); err != nil {
				logger.Warn("commit on partitions revoked failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("logsource: dial kafka brokers: %w", err)
	}

	return &KafkaReader{client: client, instanceID: instanceID, logger: logger}, nil
}

// Poll implements Reader.
func (r *KafkaReader) Poll(ctx context.Context) ([]Message, error) {
	fetches := r.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("logsource: fetch error on %s/%d: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
	}

	var out []Message
	fetches.EachRecord(func(rec *kgo.Record) {
		out = append(out, Message{Offset: rec.Offset, Value: rec.Value})
	})
	return out, nil
}

// CommitUpTo advances the consumer group's committed offset to offset
// (exclusive upper bound handling is left to the caller: pass the last
// durable offset, franz-go commits offset+1 as the next fetch position).
// This is the Kafka-specific realization of the host context's
// checkpoint call.
func (r *KafkaReader) CommitUpTo(ctx context.Context, topic string, partition int32, offset int64) error {
	return r.client.CommitRecords(ctx, &kgo.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
	})
}

// Close implements Reader.
func (r *KafkaReader) Close() error {
	r.client.Close()
	return nil
}
