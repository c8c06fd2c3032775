// Package notify delivers operator alerts for ledger events. Resolution
// notices, archive failures, and similar messages fan out to every configured
// channel (Telegram, Discord); the allowed-event list in config decides which
// event types reach operators at all.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/predictlabs/marketcore/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to the configured senders, filtered by event
// type. Notify forwards only events in the allowed set; NotifyAll bypasses
// the filter for operator-initiated messages.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier delivering to senders. events names the
// domain event types to forward; an empty list forwards everything. Entries
// that match no known event type are kept but logged, since they would
// otherwise silence an alert through a config typo.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	logger = logger.With(slog.String("component", "notifier"))
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !domain.KnownEvent(e) {
			logger.Warn("unknown event type in notify filter", slog.String("event", e))
		}
		allowed[e] = true
	}
	return &Notifier{senders: senders, events: allowed, logger: logger}
}

// Notify sends the message to every sender if the event type passes the
// configured filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends the message to every sender regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// Bind narrows the notifier to a single event type under the domain.Notifier
// interface, so engines can raise alerts without knowing about event
// filtering or channels.
func (n *Notifier) Bind(event string) *Bound {
	return &Bound{notifier: n, event: event}
}

// Bound is a Notifier fixed to one event type.
type Bound struct {
	notifier *Notifier
	event    string
}

var _ domain.Notifier = (*Bound)(nil)

// Notify forwards the message under the bound event type.
func (b *Bound) Notify(ctx context.Context, title, message string) error {
	return b.notifier.Notify(ctx, b.event, title, message)
}

// dispatch sends to every sender. Failures are collected so one dead channel
// does not block the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
