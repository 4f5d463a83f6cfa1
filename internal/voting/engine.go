package voting

import (
	"fmt"
	"sync"
	"time"

	"governance-voting/internal/oracle"
)

// Administrator-configurable defaults, used when a create-round call
// passes a zero duration and until the admin overrides them.
const (
	DefaultCommitWindow          = 24 * time.Hour
	DefaultRevealWindow          = 24 * time.Hour
	DefaultCancellationThreshold = 50
)

// Engine owns the round arena and applies every operation as a single
// indivisible unit: one mutex serializes all calls, and each call either
// completes fully or aborts with no partial write. Rounds are created,
// mutated through their phase windows and finalized; none is ever deleted.
type Engine struct {
	mu sync.Mutex

	admin       VoterID
	weights     oracle.WeightOracle
	allocations oracle.AllocationOracle // optional, nil disables the For bonus
	sink        Sink                    // optional
	now         func() time.Time

	rounds map[uint64]*round
	nextID uint64

	defaultCommitWindow          time.Duration
	defaultRevealWindow          time.Duration
	defaultCancellationThreshold uint64
}

// NewEngine creates an engine. The admin identity gates all privileged
// operations. A weight oracle is required and a nil one panics here rather
// than later inside an operation; the allocation oracle and sink may be nil.
func NewEngine(admin VoterID, weights oracle.WeightOracle, allocations oracle.AllocationOracle, sink Sink) *Engine {
	if weights == nil {
		panic("voting: weight oracle is required")
	}
	return &Engine{
		admin:                        admin,
		weights:                      weights,
		allocations:                  allocations,
		sink:                         sink,
		now:                          time.Now,
		rounds:                       make(map[uint64]*round),
		nextID:                       1,
		defaultCommitWindow:          DefaultCommitWindow,
		defaultRevealWindow:          DefaultRevealWindow,
		defaultCancellationThreshold: DefaultCancellationThreshold,
	}
}

// SetClock overrides the engine's time source. This is primarily intended
// for testing; production callers should leave the default.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now != nil {
		e.now = now
	}
}

// SetDefaultDurations updates the fallback commit/reveal window lengths
// used when create-round receives a zero duration. Admin only. Passing a
// zero duration keeps the current value.
func (e *Engine) SetDefaultDurations(caller VoterID, commit, reveal time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrUnauthorized
	}
	if commit > 0 {
		e.defaultCommitWindow = commit
	}
	if reveal > 0 {
		e.defaultRevealWindow = reveal
	}
	return nil
}

// SetDefaultCancellationThreshold updates the turnout percentage a round
// must reach before against majorities may trigger cancellation. Admin
// only; the percentage must not exceed 100.
func (e *Engine) SetDefaultCancellationThreshold(caller VoterID, percent uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrUnauthorized
	}
	if percent > 100 {
		return ErrThresholdOutOfRange
	}
	e.defaultCancellationThreshold = percent
	return nil
}

// CreateRound opens a new round over the given proposal set. Admin only.
// Zero durations fall back to the configured defaults. The eligible-member
// count is snapshotted from the weight oracle now and never recomputed,
// even if membership changes mid-round.
func (e *Engine) CreateRound(caller VoterID, commitDur, revealDur time.Duration, proposals []ProposalID, method CountingMethod, autoCancellation bool) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		return 0, ErrUnauthorized
	}
	if len(proposals) == 0 {
		return 0, ErrEmptyProposals
	}
	if commitDur <= 0 {
		commitDur = e.defaultCommitWindow
	}
	if revealDur <= 0 {
		revealDur = e.defaultRevealWindow
	}

	eligible, err := e.weights.EligibleMemberCount()
	if err != nil {
		return 0, fmt.Errorf("weight oracle: %w", err)
	}

	start := e.now()
	r := &round{
		id:                    e.nextID,
		startCommit:           start,
		endCommit:             start.Add(commitDur),
		endReveal:             start.Add(commitDur).Add(revealDur),
		method:                method,
		proposalIDs:           append([]ProposalID(nil), proposals...),
		snapshotEligibleCount: eligible,
		cancellationThreshold: e.defaultCancellationThreshold,
		autoCancellation:      autoCancellation,
		commitments:           make(map[VoterID]Commitment),
		hasCommitted:          make(map[VoterID]bool),
		hasRevealed:           make(map[VoterID]bool),
		tallies:               make(map[ProposalID]*Tally),
	}
	e.rounds[r.id] = r
	e.nextID++

	e.emit(EventRoundCreated, RoundCreatedData{
		RoundID:               r.id,
		StartCommit:           r.startCommit,
		EndCommit:             r.endCommit,
		EndReveal:             r.endReveal,
		Method:                r.method,
		ProposalIDs:           append([]ProposalID(nil), r.proposalIDs...),
		SnapshotEligibleCount: r.snapshotEligibleCount,
		CancellationThreshold: r.cancellationThreshold,
		AutoCancellation:      r.autoCancellation,
	})
	return r.id, nil
}

// Commit stores a sealed commitment for the caller during the commit
// window. The digest is stored verbatim; the engine learns nothing about
// the ballot content at this stage. A voter may commit at most once per
// round, even after a later reveal clears the stored digest.
func (e *Engine) Commit(caller VoterID, roundID uint64, commitment Commitment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	if r.phaseAt(e.now()) != PhaseCommit {
		return ErrPhaseClosed
	}

	eligible, err := e.weights.IsEligible(string(caller))
	if err != nil {
		return fmt.Errorf("weight oracle: %w", err)
	}
	if !eligible {
		return ErrNotEligible
	}
	if r.hasCommitted[caller] {
		return ErrAlreadyCommitted
	}

	r.commitments[caller] = commitment
	r.hasCommitted[caller] = true
	r.totalCommitted++

	e.emit(EventCommitmentReceived, CommitmentReceivedData{
		RoundID:    roundID,
		Voter:      caller,
		Commitment: commitment,
	})
	return nil
}

// Reveal opens the caller's commitment during the reveal window and, on a
// bit-exact digest match, tallies the ballot. The caller's weight is read
// from the weight oracle at reveal time, not at commit time. On success
// the stored commitment is consumed (cleared to zero) so it can never be
// replayed.
func (e *Engine) Reveal(caller VoterID, roundID uint64, proposals []ProposalID, choices []Choice, secret Secret) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	if r.phaseAt(e.now()) != PhaseReveal {
		return ErrPhaseClosed
	}
	if len(proposals) != len(choices) {
		return ErrLengthMismatch
	}
	if r.hasRevealed[caller] {
		return ErrAlreadyRevealed
	}
	stored := r.commitments[caller]
	if stored.IsZero() {
		return ErrNoLiveCommitment
	}
	if ComputeCommitment(proposals, choices, secret, caller) != stored {
		return ErrHashMismatch
	}

	// All oracle reads happen before any mutation so an oracle failure
	// aborts with no partial write.
	weight, err := e.weights.WeightOf(string(caller))
	if err != nil {
		return fmt.Errorf("weight oracle: %w", err)
	}
	bonus := make(map[ProposalID]bool)
	if e.allocations != nil {
		for i, p := range proposals {
			if choices[i] != ChoiceFor {
				continue
			}
			amount, err := e.allocations.AllocatedAmount(string(caller), uint64(p))
			if err != nil {
				return fmt.Errorf("allocation oracle: %w", err)
			}
			if amount > 0 {
				bonus[p] = true
			}
		}
	}

	for i, p := range proposals {
		t := r.tally(p)
		switch choices[i] {
		case ChoiceFor:
			t.ForWeight += weight
			// Recorded funding allocations toward a proposal double the
			// voter's For weight on it. Intentional, see design notes.
			if bonus[p] {
				t.ForWeight += weight
			}
			if r.method == BordaCount {
				t.BordaPoints += weight * 3
			}
		case ChoiceAgainst:
			t.AgainstWeight += weight
		case ChoiceAbstain:
			t.AbstainCount++
			if r.method == BordaCount {
				t.BordaPoints += weight
			}
		default:
			t.NotParticipatingCount++
		}
	}

	r.commitments[caller] = Commitment{}
	r.hasRevealed[caller] = true
	r.totalRevealed++

	e.emit(EventVoteRevealed, VoteRevealedData{
		RoundID:   roundID,
		Voter:     caller,
		Weight:    weight,
		Proposals: append([]ProposalID(nil), proposals...),
		Choices:   append([]Choice(nil), choices...),
	})
	return nil
}

// Finalize closes a round after the reveal window, computes turnout and
// evaluates cancellation triggers. It succeeds exactly once per round; a
// second call fails rather than recomputing.
func (e *Engine) Finalize(roundID uint64) (FinalizeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return FinalizeResult{}, ErrUnknownRound
	}
	if r.finalized {
		return FinalizeResult{}, ErrAlreadyFinalized
	}
	if !e.now().After(r.endReveal) {
		return FinalizeResult{}, ErrNotYetFinalizable
	}

	r.finalized = true
	turnout := turnoutPercent(r.totalRevealed, r.snapshotEligibleCount)

	res := FinalizeResult{
		RoundID:        roundID,
		TurnoutPercent: turnout,
		Results:        make(map[ProposalID]Tally, len(r.proposalIDs)),
	}
	for _, p := range r.proposalIDs {
		t := r.tally(p)
		res.Results[p] = *t
		if r.autoCancellation && turnout >= r.cancellationThreshold && t.AgainstWeight > t.ForWeight {
			res.Cancelled = append(res.Cancelled, p)
		}
	}

	e.emit(EventRoundFinalized, RoundFinalizedData{
		RoundID:        roundID,
		TurnoutPercent: turnout,
		Results:        res.Results,
	})
	for _, p := range res.Cancelled {
		e.emit(EventCancellationTriggered, CancellationTriggeredData{
			RoundID:    roundID,
			ProposalID: p,
		})
	}
	return res, nil
}

// turnoutPercent is floor(revealed*100/eligible), 0 when the snapshot
// denominator is zero.
func turnoutPercent(revealed, eligible uint64) uint64 {
	if eligible == 0 {
		return 0
	}
	return revealed * 100 / eligible
}
