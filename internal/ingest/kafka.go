// Package ingest feeds alerts from the detection pipeline into the engine,
// over Kafka or DTLS.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"astra-responder/internal/engine"
	"astra-responder/internal/schema"
)

// Processor consumes alerts. *engine.Engine satisfies it.
type Processor interface {
	ProcessAlert(ctx context.Context, alert schema.AlertContext) ([]engine.ActionOutcome, error)
}

// KafkaConfig configures the alert topic consumer.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	MinBytes      int           `yaml:"min_bytes"`
	MaxBytes      int           `yaml:"max_bytes"`
	MaxWait       time.Duration `yaml:"max_wait"`
}

// DefaultKafkaConfig returns default consumer configuration.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "astra.alerts",
		ConsumerGroup: "astra-responder",
		MinBytes:      1,
		MaxBytes:      1 << 20,
		MaxWait:       time.Second,
	}
}

// Validate checks the consumer configuration.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if c.ConsumerGroup == "" {
		return errors.New("kafka: consumer group is required")
	}
	return nil
}

// KafkaConsumer reads AlertContext JSON from the alert topic and hands each
// alert to the engine. Offsets are committed only after processing, so a
// crash re-delivers rather than drops; re-delivery is safe because the block
// store upsert and pending dedup are idempotent.
type KafkaConsumer struct {
	reader    *kafka.Reader
	processor Processor
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	consumed atomic.Int64
	failed   atomic.Int64
}

// NewKafkaConsumer creates the consumer.
func NewKafkaConsumer(cfg KafkaConfig, processor Processor, logger *slog.Logger) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if processor == nil {
		return nil, errors.New("kafka: processor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &KafkaConsumer{
		reader:    reader,
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	logger.Info("kafka alert consumer initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group", cfg.ConsumerGroup,
	)
	return c, nil
}

// Start begins consuming in a goroutine and returns immediately.
func (c *KafkaConsumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("kafka consumer loop exited", "error", err)
		}
	}()
}

func (c *KafkaConsumer) consumeLoop() error {
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.failed.Add(1)
			c.logger.Error("failed to fetch alert message", "error", err)
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		c.handleMessage(msg)

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
			c.logger.Error("failed to commit offset", "error", err, "offset", msg.Offset)
		}
	}
}

func (c *KafkaConsumer) handleMessage(msg kafka.Message) {
	var alert schema.AlertContext
	if err := json.Unmarshal(msg.Value, &alert); err != nil {
		// Malformed payloads are committed and dropped: retrying cannot
		// make them parse.
		c.failed.Add(1)
		c.logger.Warn("dropping malformed alert message",
			"error", err, "offset", msg.Offset, "partition", msg.Partition)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	outcomes, err := c.processor.ProcessAlert(ctx, alert)
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("dropping rejected alert",
			"error", err, "alert_type", alert.AlertType, "offset", msg.Offset)
		return
	}

	c.consumed.Add(1)
	c.logger.Debug("alert processed from kafka",
		"alert_type", alert.AlertType, "outcomes", len(outcomes), "offset", msg.Offset)
}

// Stats returns (processed, failed) message counts.
func (c *KafkaConsumer) Stats() (int64, int64) {
	return c.consumed.Load(), c.failed.Load()
}

// Stop drains the consumer and closes the reader.
func (c *KafkaConsumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Info("stopping kafka alert consumer",
		"processed", c.consumed.Load(), "failed", c.failed.Load())

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close reader: %w", err)
	}
	return nil
}
