package recorder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"governance-voting/internal/logger"
	"governance-voting/internal/oracle"
	"governance-voting/internal/tui"
	"governance-voting/internal/voting"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEventRowMapping(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	row := eventRow(voting.Event{
		Type:      voting.EventCommitmentReceived,
		Timestamp: ts,
		Data: voting.CommitmentReceivedData{
			RoundID: 7,
			Voter:   "alice",
		},
	})
	require.Equal(t, string(voting.EventCommitmentReceived), row.Type)
	require.Equal(t, uint64(7), row.RoundID)
	require.Equal(t, "alice", row.Voter)
	require.Equal(t, ts, row.Timestamp)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &payload))
	require.Equal(t, "alice", payload["Voter"])

	row = eventRow(voting.Event{
		Type:      voting.EventCancellationTriggered,
		Timestamp: ts,
		Data: voting.CancellationTriggeredData{
			RoundID:    7,
			ProposalID: 42,
		},
	})
	require.Equal(t, uint64(7), row.RoundID)
	require.Equal(t, uint64(42), row.ProposalID)
	require.Empty(t, row.Voter)

	row = eventRow(voting.Event{
		Type:      voting.EventVoteRevealed,
		Timestamp: ts,
		Data: voting.VoteRevealedData{
			RoundID: 3,
			Voter:   "bob",
			Weight:  5,
		},
	})
	require.Equal(t, uint64(3), row.RoundID)
	require.Equal(t, "bob", row.Voter)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(nil, nil, logger.New(false), reg)

	ev := voting.Event{Type: voting.EventCommitmentReceived, Timestamp: time.Now()}
	for i := 0; i < EventQueueSize; i++ {
		r.Publish(ev)
	}
	require.Equal(t, float64(0), testutil.ToFloat64(r.metrics.eventsDropped))

	// Queue is full; the next publish drops instead of blocking.
	r.Publish(ev)
	require.Equal(t, float64(1), testutil.ToFloat64(r.metrics.eventsDropped))
}

func TestHandleCountsEventsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(nil, nil, logger.New(false), reg)

	members := oracle.NewStatic()
	members.SetMember("alice", 5)
	engine := voting.NewEngine("admin", members, members, nil)
	r.AttachEngine(engine)

	ev := voting.Event{
		Type:      voting.EventCommitmentReceived,
		Timestamp: time.Now(),
		Data:      voting.CommitmentReceivedData{RoundID: 1, Voter: "alice"},
	}
	r.handle(ev)
	r.handle(ev)

	require.Equal(t, float64(2), testutil.ToFloat64(r.metrics.events.WithLabelValues(string(voting.EventCommitmentReceived))))
	// No DB configured: nothing queued for flushing.
	require.Empty(t, r.pending)
}

// The channel owner must be able to close the TUI channel as soon as Run
// returns: Run may only return after the shutdown drain has sent every
// queued update.
func TestRunDrainsQueueBeforeReturning(t *testing.T) {
	members := oracle.NewStatic()
	members.SetMember("alice", 5)

	engine := voting.NewEngine("admin", members, members, nil)
	roundID, err := engine.CreateRound("admin", time.Hour, time.Hour, []voting.ProposalID{1}, voting.WeightedVoting, false)
	require.NoError(t, err)

	tuiCh := make(chan interface{}, 4)
	r := New(nil, tuiCh, logger.New(false), nil)
	r.AttachEngine(engine)

	// Events sit in the queue while the context is already cancelled, the
	// shutdown ordering in the daemon.
	ev := voting.Event{
		Type:      voting.EventCommitmentReceived,
		Timestamp: time.Now(),
		Data:      voting.CommitmentReceivedData{RoundID: roundID, Voter: "alice"},
	}
	r.Publish(ev)
	r.Publish(ev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	// Run has returned, so no sender remains and closing is safe.
	close(tuiCh)

	var updates int
	for data := range tuiCh {
		update, ok := data.(tui.RoundUpdate)
		require.True(t, ok)
		require.Equal(t, roundID, update.RoundID)
		updates++
	}
	require.Equal(t, 2, updates)
}

func TestForwardToTUISnapshots(t *testing.T) {
	members := oracle.NewStatic()
	members.SetMember("alice", 5)
	members.SetMember("bob", 3)

	engine := voting.NewEngine("admin", members, members, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	roundID, err := engine.CreateRound("admin", time.Hour, time.Hour, []voting.ProposalID{1}, voting.WeightedVoting, false)
	require.NoError(t, err)

	secret := voting.Secret{1}
	commitment := voting.ComputeCommitment([]voting.ProposalID{1}, []voting.Choice{voting.ChoiceFor}, secret, "alice")
	require.NoError(t, engine.Commit("alice", roundID, commitment))
	now = now.Add(61 * time.Minute)
	require.NoError(t, engine.Reveal("alice", roundID, []voting.ProposalID{1}, []voting.Choice{voting.ChoiceFor}, secret))

	tuiCh := make(chan interface{}, 1)
	r := New(nil, tuiCh, logger.New(false), nil)
	r.AttachEngine(engine)

	r.forwardToTUI(voting.Event{
		Type: voting.EventVoteRevealed,
		Data: voting.VoteRevealedData{RoundID: roundID, Voter: "alice", Weight: 5},
	})

	update := (<-tuiCh).(tui.RoundUpdate)
	require.Equal(t, roundID, update.RoundID)
	require.Equal(t, "reveal", update.Phase)
	require.Equal(t, uint64(1), update.TotalRevealed)
	require.Equal(t, uint64(50), update.TurnoutPercent)
	require.Len(t, update.Proposals, 1)
	require.Equal(t, uint64(5), update.Proposals[0].ForWeight)

	// A full display channel never blocks the recorder.
	r.forwardToTUI(voting.Event{
		Type: voting.EventVoteRevealed,
		Data: voting.VoteRevealedData{RoundID: roundID},
	})
	r.forwardToTUI(voting.Event{
		Type: voting.EventVoteRevealed,
		Data: voting.VoteRevealedData{RoundID: roundID},
	})
}
