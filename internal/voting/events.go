package voting

import "time"

// EventType names an entry in the externally observable event log.
type EventType string

const (
	EventRoundCreated          EventType = "round-created"
	EventCommitmentReceived    EventType = "commitment-received"
	EventVoteRevealed          EventType = "vote-revealed"
	EventRoundFinalized        EventType = "round-finalized"
	EventCancellationTriggered EventType = "cancellation-triggered"
)

// Event is one entry of the canonical history. External consumers are
// expected to reconstruct all derived state from this log plus the query
// surface rather than re-deriving tallies on their own.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// Sink receives events in state-mutation order. Publish is called inside
// the engine's critical section and must not block.
type Sink interface {
	Publish(Event)
}

// RoundCreatedData accompanies EventRoundCreated.
type RoundCreatedData struct {
	RoundID               uint64
	StartCommit           time.Time
	EndCommit             time.Time
	EndReveal             time.Time
	Method                CountingMethod
	ProposalIDs           []ProposalID
	SnapshotEligibleCount uint64
	CancellationThreshold uint64
	AutoCancellation      bool
}

// CommitmentReceivedData accompanies EventCommitmentReceived. The digest
// is opaque; nothing about the ballot content is learned at this stage.
type CommitmentReceivedData struct {
	RoundID    uint64
	Voter      VoterID
	Commitment Commitment
}

// VoteRevealedData accompanies EventVoteRevealed.
type VoteRevealedData struct {
	RoundID   uint64
	Voter     VoterID
	Weight    uint64
	Proposals []ProposalID
	Choices   []Choice
}

// RoundFinalizedData accompanies EventRoundFinalized and carries the full
// per-proposal snapshot.
type RoundFinalizedData struct {
	RoundID        uint64
	TurnoutPercent uint64
	Results        map[ProposalID]Tally
}

// CancellationTriggeredData accompanies EventCancellationTriggered. It is
// an outward notification only; the engine never mutates a proposal's
// external status itself.
type CancellationTriggeredData struct {
	RoundID    uint64
	ProposalID ProposalID
}

func (e *Engine) emit(t EventType, data any) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(Event{Type: t, Timestamp: e.now(), Data: data})
}
