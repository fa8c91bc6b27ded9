package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchWriterConfig holds configuration for the batch writer.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultBatchWriterConfig returns the default batch writer configuration.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// Inserter is the batched destination, implemented by ClickHouseClient.
type Inserter interface {
	InsertBatch(ctx context.Context, entries []Entry) error
}

// BatchWriter buffers history entries and flushes them to the durable
// store in batches. Implements Sink.
type BatchWriter struct {
	dest   Inserter
	config BatchWriterConfig
	logger *slog.Logger

	buffer []Entry
	mu     sync.Mutex

	flushTimer *time.Timer
	closed     bool

	totalWritten atomic.Uint64
	totalFailed  atomic.Uint64
}

// NewBatchWriter creates a BatchWriter flushing to dest.
func NewBatchWriter(dest Inserter, cfg BatchWriterConfig, logger *slog.Logger) *BatchWriter {
	if logger == nil {
		logger = slog.Default()
	}
	bw := &BatchWriter{
		dest:   dest,
		config: cfg,
		logger: logger,
		buffer: make([]Entry, 0, cfg.BatchSize),
	}
	bw.flushTimer = time.AfterFunc(cfg.FlushInterval, bw.timerFlush)
	return bw
}

// Write adds an entry to the batch, flushing when the batch is full.
func (bw *BatchWriter) Write(entry Entry) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return fmt.Errorf("batch writer is closed")
	}

	bw.buffer = append(bw.buffer, entry)
	if len(bw.buffer) >= bw.config.BatchSize {
		return bw.flushLocked()
	}
	return nil
}

func (bw *BatchWriter) timerFlush() {
	bw.mu.Lock()
	if !bw.closed {
		if err := bw.flushLocked(); err != nil {
			bw.logger.Error("scheduled history flush failed", "error", err)
		}
		bw.flushTimer.Reset(bw.config.FlushInterval)
	}
	bw.mu.Unlock()
}

// flushLocked sends the buffered entries with retries. Caller holds bw.mu.
func (bw *BatchWriter) flushLocked() error {
	if len(bw.buffer) == 0 {
		return nil
	}

	batch := bw.buffer
	bw.buffer = make([]Entry, 0, bw.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= bw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bw.config.RetryDelay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		lastErr = bw.dest.InsertBatch(ctx, batch)
		cancel()

		if lastErr == nil {
			bw.totalWritten.Add(uint64(len(batch)))
			return nil
		}
	}

	bw.totalFailed.Add(uint64(len(batch)))
	return fmt.Errorf("flush %d history entries: %w", len(batch), lastErr)
}

// Flush forces a synchronous flush of the current buffer.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

// Close flushes remaining entries and stops the timer.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true
	bw.flushTimer.Stop()
	return bw.flushLocked()
}

// Stats reports totals for the service status endpoint.
func (bw *BatchWriter) Stats() (written, failed uint64) {
	return bw.totalWritten.Load(), bw.totalFailed.Load()
}
