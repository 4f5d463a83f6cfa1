package voting

// Read-only accessors. None of these fail on an unknown round id; they
// return the record's zero-valued state instead, so callers must check
// RoundInfo.Exists when the distinction matters.

// RoundInfo returns round metadata, the time-derived phase and the
// aggregate commit/reveal counters.
func (e *Engine) RoundInfo(roundID uint64) RoundInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return RoundInfo{ID: roundID}
	}
	return RoundInfo{
		ID:                    r.id,
		Exists:                true,
		StartCommit:           r.startCommit,
		EndCommit:             r.endCommit,
		EndReveal:             r.endReveal,
		Method:                r.method,
		ProposalIDs:           append([]ProposalID(nil), r.proposalIDs...),
		SnapshotEligibleCount: r.snapshotEligibleCount,
		CancellationThreshold: r.cancellationThreshold,
		AutoCancellation:      r.autoCancellation,
		Finalized:             r.finalized,
		Phase:                 r.phaseAt(e.now()),
		TotalCommitted:        r.totalCommitted,
		TotalRevealed:         r.totalRevealed,
	}
}

// ProposalTally returns the current tally for one proposal, including
// Borda points. Zero for unknown rounds or untouched proposals.
func (e *Engine) ProposalTally(roundID uint64, proposal ProposalID) Tally {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return Tally{}
	}
	if t, ok := r.tallies[proposal]; ok {
		return *t
	}
	return Tally{}
}

// HasCommitted reports whether the voter has committed in the round.
func (e *Engine) HasCommitted(roundID uint64, voter VoterID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return false
	}
	return r.hasCommitted[voter]
}

// HasRevealed reports whether the voter has revealed in the round.
func (e *Engine) HasRevealed(roundID uint64, voter VoterID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return false
	}
	return r.hasRevealed[voter]
}

// TurnoutPercent returns the current turnout estimate. Before the reveal
// window closes this is a live value; after finalization it matches the
// final snapshot.
func (e *Engine) TurnoutPercent(roundID uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return 0
	}
	return turnoutPercent(r.totalRevealed, r.snapshotEligibleCount)
}
