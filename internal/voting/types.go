// Package voting implements a commit-reveal voting round engine for
// weighted funding decisions: phase timing, commitment binding, reveal
// verification, weighted and Borda tallying, turnout computation and
// threshold-triggered cancellation signaling.
package voting

import (
	"errors"
	"time"
)

// VoterID identifies a member. Eligibility and weight come from the
// configured weight oracle, never from this package.
type VoterID string

// ProposalID identifies a funding proposal. Proposal lifecycle is an
// external concern; the engine only tallies against these ids.
type ProposalID uint64

// Choice is a voter's position on a single proposal.
type Choice uint8

const (
	ChoiceNotParticipating Choice = iota
	ChoiceFor
	ChoiceAgainst
	ChoiceAbstain
)

func (c Choice) String() string {
	switch c {
	case ChoiceFor:
		return "for"
	case ChoiceAgainst:
		return "against"
	case ChoiceAbstain:
		return "abstain"
	case ChoiceNotParticipating:
		return "not_participating"
	default:
		return "unknown"
	}
}

// CountingMethod selects how revealed votes are scored.
type CountingMethod uint8

const (
	// WeightedVoting accumulates for/against weight only.
	WeightedVoting CountingMethod = iota
	// BordaCount additionally assigns positional points: weight*3 for a
	// For vote, weight*1 for an Abstain, nothing otherwise.
	BordaCount
)

func (m CountingMethod) String() string {
	switch m {
	case WeightedVoting:
		return "weighted"
	case BordaCount:
		return "borda"
	default:
		return "unknown"
	}
}

// Phase is the round state derived from the current time; it is never
// stored. Transitions are one-directional.
type Phase uint8

const (
	PhasePending Phase = iota
	PhaseCommit
	PhaseReveal
	PhaseAwaitingFinalization
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseAwaitingFinalization:
		return "awaiting_finalization"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Tally holds the accumulated results for one proposal within a round.
// For/Against are weight-scaled; Abstain/NotParticipating are plain counts.
type Tally struct {
	ForWeight             uint64
	AgainstWeight         uint64
	AbstainCount          uint64
	NotParticipatingCount uint64
	BordaPoints           uint64
}

// RoundInfo is the read-only metadata snapshot returned by the query
// surface. A zero RoundInfo (Exists=false) is returned for unknown ids.
type RoundInfo struct {
	ID                    uint64
	Exists                bool
	StartCommit           time.Time
	EndCommit             time.Time
	EndReveal             time.Time
	Method                CountingMethod
	ProposalIDs           []ProposalID
	SnapshotEligibleCount uint64
	CancellationThreshold uint64
	AutoCancellation      bool
	Finalized             bool
	Phase                 Phase
	TotalCommitted        uint64
	TotalRevealed         uint64
}

// FinalizeResult is the final snapshot emitted exactly once per round.
type FinalizeResult struct {
	RoundID        uint64
	TurnoutPercent uint64
	Results        map[ProposalID]Tally
	Cancelled      []ProposalID
}

// Named failure reasons. Every failing operation aborts atomically with
// exactly one of these (possibly wrapped with context).
var (
	ErrUnknownRound        = errors.New("unknown round")
	ErrPhaseClosed         = errors.New("phase closed")
	ErrNotEligible         = errors.New("not eligible")
	ErrAlreadyCommitted    = errors.New("already committed")
	ErrLengthMismatch      = errors.New("length mismatch")
	ErrNoLiveCommitment    = errors.New("no live commitment")
	ErrAlreadyRevealed     = errors.New("already revealed")
	ErrHashMismatch        = errors.New("hash mismatch")
	ErrNotYetFinalizable   = errors.New("not yet finalizable")
	ErrAlreadyFinalized    = errors.New("already finalized")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrThresholdOutOfRange = errors.New("threshold out of range")
	ErrEmptyProposals      = errors.New("empty proposal set")
)

// round is the mutable per-round record. It is owned by the Engine and
// only touched inside its critical section.
type round struct {
	id                    uint64
	startCommit           time.Time
	endCommit             time.Time
	endReveal             time.Time
	method                CountingMethod
	proposalIDs           []ProposalID
	snapshotEligibleCount uint64
	cancellationThreshold uint64
	autoCancellation      bool
	finalized             bool

	commitments  map[VoterID]Commitment
	hasCommitted map[VoterID]bool
	hasRevealed  map[VoterID]bool
	tallies      map[ProposalID]*Tally

	totalCommitted uint64
	totalRevealed  uint64
}

// phaseAt derives the round phase from the given instant. The commit
// window is inclusive on both ends; the reveal window is (endCommit,
// endReveal].
func (r *round) phaseAt(t time.Time) Phase {
	if r.finalized {
		return PhaseFinalized
	}
	switch {
	case t.Before(r.startCommit):
		return PhasePending
	case !t.After(r.endCommit):
		return PhaseCommit
	case !t.After(r.endReveal):
		return PhaseReveal
	default:
		return PhaseAwaitingFinalization
	}
}

// tally returns the tally record for a proposal, creating it on first use.
func (r *round) tally(p ProposalID) *Tally {
	t, ok := r.tallies[p]
	if !ok {
		t = &Tally{}
		r.tallies[p] = t
	}
	return t
}
