// Package notification delivers signal alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"trading-signals/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel         `json:"level"`
	Title   string             `json:"title"`
	Message string             `json:"message"`
	Event   *model.SignalEvent `json:"event,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// SignalAlert formats a signal event as an alert.
func SignalAlert(ev model.SignalEvent) Alert {
	at := time.Unix(int64(ev.Timestamp), 0).UTC().Format("2006-01-02 15:04:05")
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s %s", ev.Side, ev.Symbol, ev.Interval),
		Message: fmt.Sprintf("%s on %s at %.8g (%s UTC, %s)",
			ev.Strategy, ev.Exchange, ev.Price, at, ev.Instrument.Key()),
		Event: &ev,
	}
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Dispatcher delivers alerts to every notifier from a background queue so
// that slow channels never stall the signal pipeline. A full queue drops
// the alert.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Alert
	timeout   time.Duration

	// OnResult is called after each delivery attempt. err is nil on success.
	OnResult func(channel string, err error)
}

// NewDispatcher creates a dispatcher with a queue of buf alerts.
func NewDispatcher(buf int, notifiers ...Notifier) *Dispatcher {
	if buf <= 0 {
		buf = 64
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Alert, buf),
		timeout:   10 * time.Second,
	}
}

// Len returns the number of configured notifiers.
func (d *Dispatcher) Len() int { return len(d.notifiers) }

// Notify enqueues an alert. Returns false if the queue is full.
func (d *Dispatcher) Notify(a Alert) bool {
	select {
	case d.queue <- a:
		return true
	default:
		log.Printf("[notify] queue full, dropped %q", a.Title)
		return false
	}
}

// NotifySignal enqueues the alert for a signal event.
func (d *Dispatcher) NotifySignal(ev model.SignalEvent) bool {
	return d.Notify(SignalAlert(ev))
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

// Send delivers an alert synchronously and joins the per-channel errors.
func (d *Dispatcher) Send(ctx context.Context, a Alert) error {
	return d.deliver(ctx, a)
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, a)
		cancel()
		if err != nil {
			log.Printf("[notify] %s: %v", n.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
		if d.OnResult != nil {
			d.OnResult(n.Name(), err)
		}
	}
	return errors.Join(errs...)
}
