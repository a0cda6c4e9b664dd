package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/ledger"
	"github.com/alanyoungcy/perpbot/internal/service"
	"github.com/alanyoungcy/perpbot/internal/venue/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type neverScorer struct{}

func (neverScorer) Score(symbol string, _, _, _ []domain.Kline, _, _ float64) domain.LaunchSignal {
	return domain.LaunchSignal{Symbol: symbol}
}

// memoryBus is an in-memory stand-in for the Redis stream.
type memoryBus struct {
	msgs []domain.StreamMessage
}

func (b *memoryBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memoryBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.msgs = append(b.msgs, domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", len(b.msgs)+1),
		Payload: payload,
	})
	return nil
}

func (b *memoryBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	start := 0
	if lastID != "0" {
		for i, m := range b.msgs {
			if m.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	out := make([]domain.StreamMessage, len(b.msgs[start:]))
	copy(out, b.msgs[start:])
	return out, nil
}

type feedHarness struct {
	bus      *memoryBus
	venue    *sim.Venue
	staged   *ledger.StagedBook
	ledger   *ledger.PositionLedger
	triggers *ledger.TriggerBook
	feed     *EntryFeed
}

func newFeedHarness(t *testing.T) *feedHarness {
	t.Helper()
	logger := testLogger()
	h := &feedHarness{
		bus:      &memoryBus{},
		venue:    sim.New(),
		staged:   ledger.NewStagedBook(),
		ledger:   ledger.NewPositionLedger(),
		triggers: ledger.NewTriggerBook(),
	}
	controller := service.NewStagedEntryController(h.staged, h.venue, neverScorer{}, nil, logger)
	recorder := service.NewTradeRecorder(nil, nil, nil, logger)
	engine := executor.NewEngine(h.venue, h.ledger, h.staged, h.triggers, recorder, nil, logger)
	h.feed = NewEntryFeed(h.bus, h.venue, controller, h.ledger, engine, "USDT", 10, logger)
	h.feed.lastID = "0"

	h.venue.SetBalance(domain.Balance{Asset: "USDT", Available: 1000})
	return h
}

func (h *feedHarness) append(t *testing.T, sig entrySignal) {
	t.Helper()
	payload, err := json.Marshal(sig)
	require.NoError(t, err)
	require.NoError(t, h.bus.StreamAppend(context.Background(), "entry_signals", payload))
}

func TestPoll_OpensTrialWithProtection(t *testing.T) {
	t.Parallel()

	h := newFeedHarness(t)
	h.venue.SetPrice("BTCUSDT", 100)
	h.append(t, entrySignal{
		Symbol:           "BTCUSDT",
		Side:             "LONG",
		Price:            100,
		PositionFraction: 0.1,
		StopLoss:         95,
		TakeProfit:       110,
		Reason:           "breakout",
	})

	h.feed.poll(context.Background())

	sp, ok := h.staged.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StageTrial, sp.Stage)
	assert.InDelta(t, 10.0, sp.TrialQty, 1e-9)

	tr, ok := h.ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.NotEmpty(t, tr.StopLossOrderID)
	assert.NotEmpty(t, tr.TakeProfitOrderID)
	assert.Equal(t, 95.0, tr.StopLossPrice)
	assert.Equal(t, 110.0, tr.TakeProfitPrice)

	assert.Equal(t, 2, h.triggers.Len(), "both protective orders recorded")
	for _, rec := range h.triggers.Snapshot() {
		assert.Equal(t, domain.PurposeClose, rec.Purpose)
	}
}

func TestPoll_AdvancesCursor(t *testing.T) {
	t.Parallel()

	h := newFeedHarness(t)
	h.venue.SetPrice("BTCUSDT", 100)
	h.append(t, entrySignal{Symbol: "BTCUSDT", Side: "LONG", Price: 100, PositionFraction: 0.1})

	h.feed.poll(context.Background())
	require.Equal(t, "1-0", h.feed.lastID)

	// A second poll over the same stream sees nothing new.
	h.feed.poll(context.Background())
	assert.Equal(t, 1, h.ledger.Len())
}

func TestPoll_SkipsDuplicateSymbol(t *testing.T) {
	t.Parallel()

	h := newFeedHarness(t)
	h.venue.SetPrice("BTCUSDT", 100)
	h.append(t, entrySignal{Symbol: "BTCUSDT", Side: "LONG", Price: 100, PositionFraction: 0.1})
	h.append(t, entrySignal{Symbol: "BTCUSDT", Side: "LONG", Price: 100, PositionFraction: 0.1})

	h.feed.poll(context.Background())

	sp, ok := h.staged.Get("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 10.0, sp.TrialQty, 1e-9, "the duplicate never doubled the tranche")

	live, err := h.venue.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, live.Size, 1e-9)
}

func TestPoll_DropsBadSignals(t *testing.T) {
	t.Parallel()

	h := newFeedHarness(t)
	h.venue.SetPrice("BTCUSDT", 100)

	// Malformed JSON and an unknown side are both dropped without stalling
	// the stream.
	require.NoError(t, h.bus.StreamAppend(context.Background(), "entry_signals", []byte("{not json")))
	h.append(t, entrySignal{Symbol: "BTCUSDT", Side: "SIDEWAYS", Price: 100, PositionFraction: 0.1})
	h.append(t, entrySignal{Symbol: "BTCUSDT", Side: "LONG", Price: 100, PositionFraction: 0.1})

	h.feed.poll(context.Background())

	_, ok := h.staged.Get("BTCUSDT")
	assert.True(t, ok, "the valid signal after the bad ones still lands")
	assert.Equal(t, "3-0", h.feed.lastID)
}
