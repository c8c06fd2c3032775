package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEventType(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{domain.EventMarketResolved}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), domain.EventPointsSpent, "spent", "ignored"))
	require.NoError(t, n.Notify(context.Background(), domain.EventMarketResolved, "resolved", "delivered"))
	assert.Equal(t, []string{"resolved"}, sender.titles)

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(context.Background(), "manual", "delivered"))
	assert.Equal(t, []string{"resolved", "manual"}, sender.titles)
}

func TestEmptyFilterForwardsEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), domain.EventStaked, "staked", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestBoundNotifierCarriesEventType(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{domain.EventMarketResolved}, discardLogger())

	var bound domain.Notifier = n.Bind(domain.EventMarketResolved)
	require.NoError(t, bound.Notify(context.Background(), "resolved", "m"))

	filtered := n.Bind(domain.EventPointsSpent)
	require.NoError(t, filtered.Notify(context.Background(), "spent", "m"))
	assert.Equal(t, []string{"resolved"}, sender.titles)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	dead := &recordingSender{name: "dead", err: errors.New("unreachable")}
	live := &recordingSender{name: "live"}
	n := NewNotifier([]Sender{dead, live}, nil, discardLogger())

	err := n.Notify(context.Background(), domain.EventMarketResolved, "resolved", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead")
	assert.Equal(t, []string{"resolved"}, live.titles)
}
