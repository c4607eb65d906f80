package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/durable-streams/docops-processor/checkpointcache"
	"github.com/durable-streams/docops-processor/docops"
	"github.com/durable-streams/docops-processor/logsource"
	"github.com/durable-streams/docops-processor/opstore"
	"github.com/durable-streams/docops-processor/procconfig"
	"github.com/durable-streams/docops-processor/procmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the processor against Kafka and MongoDB",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := procconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("serve: build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := procmetrics.New(registry)

	cache, err := checkpointcache.Open(cfg.CheckpointCachePath)
	if err != nil {
		return fmt.Errorf("serve: open checkpoint cache: %w", err)
	}
	defer cache.Close()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("serve: connect mongo: %w", err)
	}
	db := mongoClient.Database(cfg.MongoDatabase)
	ops := opstore.NewMongoOperationStore(db.Collection(cfg.OperationCollection))
	content := opstore.NewMongoContentStore(db.Collection(cfg.ContentCollection))
	defer ops.Close(context.Background()) //nolint:errcheck

	reader, err := logsource.NewKafkaReader(logsource.KafkaReaderConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, logger)
	if err != nil {
		return fmt.Errorf("serve: build kafka reader: %w", err)
	}
	defer reader.Close()

	host := &kafkaHost{
		reader: reader,
		topic:  cfg.KafkaTopic,
		cache:  cache,
		logger: logger,
	}

	processor := docops.New(ctx, ops, content, host, logger, metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		offset, found, _ := cache.Get(cfg.KafkaTopic)
		if !found {
			fmt.Fprintln(w, "ok: no checkpoint yet")
			return
		}
		fmt.Fprintf(w, "ok: last checkpoint %d\n", offset)
	})
	opsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server stopped unexpectedly", zap.Error(err))
		}
	}()

	logger.Info("processor starting",
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	runErr := processor.Run(ctx, reader)
	processor.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", zap.Error(err))
	}

	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("serve: processor run: %w", runErr)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}

// kafkaHost implements docops.HostContext by committing the offset back
// to the consumer group and pinning it in the local checkpoint cache,
// and by logging fatal pipeline errors.
//
// It assumes a single-partition deployment: one process per partition,
// matching the PipelineSet's single offset axis.
type kafkaHost struct {
	reader *logsource.KafkaReader
	topic  string
	cache  *checkpointcache.Store
	logger *zap.Logger
}

func (h *kafkaHost) Checkpoint(offset int64) {
	if err := h.cache.Put(h.topic, offset); err != nil {
		h.logger.Warn("checkpoint cache write failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.reader.CommitUpTo(ctx, h.topic, 0, offset); err != nil {
		h.logger.Warn("kafka commit failed", zap.Int64("offset", offset), zap.Error(err))
	}
}

func (h *kafkaHost) Error(err error, restart bool) {
	h.logger.Error("processor fatal error", zap.Error(err), zap.Bool("restart", restart))
}
