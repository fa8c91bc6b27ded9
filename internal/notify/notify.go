// Package notify delivers administrator notifications about response
// actions over configurable channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"astra-responder/internal/schema"
)

// Notice describes a response action event worth telling an operator about.
type Notice struct {
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	AlertType  schema.AlertType  `json:"alert_type"`
	ActionType schema.ActionType `json:"action_type"`
	Severity   schema.Severity   `json:"severity"`
	SourceIP   string            `json:"source_ip,omitempty"`
	TargetIP   string            `json:"target_ip,omitempty"`
	Confidence float64           `json:"confidence"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Channel delivers a notice to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, notice Notice) error
}

// Notifier fans a notice out to every configured channel. Delivery is best
// effort: one failing channel never stops the others.
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   *slog.Logger
	timeout  time.Duration
}

// NewNotifier creates a notifier with no channels attached.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// AddChannel attaches a delivery channel.
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
}

// Channels returns the names of the attached channels.
func (n *Notifier) Channels() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name()
	}
	return names
}

// Notify delivers the notice to all channels concurrently and returns an
// error naming every channel that failed.
func (n *Notifier) Notify(ctx context.Context, notice Notice) error {
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now().UTC()
	}

	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	if len(channels) == 0 {
		n.logger.Debug("no notification channels configured", "title", notice.Title)
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan string, len(channels))

	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()

			if err := ch.Send(sendCtx, notice); err != nil {
				n.logger.Warn("notification delivery failed",
					"channel", ch.Name(), "title", notice.Title, "error", err)
				errCh <- fmt.Sprintf("%s: %v", ch.Name(), err)
				return
			}
			n.logger.Debug("notification delivered", "channel", ch.Name(), "title", notice.Title)
		}(ch)
	}

	wg.Wait()
	close(errCh)

	var failed []string
	for msg := range errCh {
		failed = append(failed, msg)
	}
	if len(failed) > 0 {
		return fmt.Errorf("delivery failed on %d of %d channels: %s",
			len(failed), len(channels), strings.Join(failed, "; "))
	}
	return nil
}
