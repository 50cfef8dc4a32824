package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers a message to one escalation/notification channel.
type Notifier interface {
	Send(ctx context.Context, channelID, message string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, channelID, message string) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, channelID, message string) error {
	return f(ctx, channelID, message)
}

// LogNotifier writes notifications to the structured log. It is the default
// sink in local development and the fallback when no channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send implements Notifier.
func (n LogNotifier) Send(_ context.Context, channelID, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", slog.String("channel", channelID), slog.String("message", message))
	return nil
}

// Dispatcher sends notifications without blocking the recovery path. Each send
// runs in its own observed goroutine: failures are logged and counted, never
// propagated to the caller.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	onError  func()
	wg       sync.WaitGroup
}

// NewDispatcher wraps a Notifier with fire-and-forget semantics. onError is
// invoked for every failed send (used for the metrics counter); it may be nil.
func NewDispatcher(notifier Notifier, logger *slog.Logger, timeout time.Duration, onError func()) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: notifier, logger: logger, timeout: timeout, onError: onError}
}

// Dispatch sends message to every channel in the background. The send outlives
// the caller's context on purpose: an escalation must not be cancelled because
// the recovery loop already moved on.
func (d *Dispatcher) Dispatch(channels []string, message string) {
	for _, channel := range channels {
		ch := channel
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := d.notifier.Send(ctx, ch, message); err != nil {
				d.logger.Error("notification send failed",
					slog.String("channel", ch), slog.Any("error", err))
				if d.onError != nil {
					d.onError()
				}
			}
		}()
	}
}

// Wait blocks until all in-flight sends have finished, for clean shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
