// Package models defines the database models for the persisted ballot
// event log and finalized round results.
package models

import "time"

// BallotEvent is one row of the append-only event log: round-created,
// commitment-received, vote-revealed, round-finalized and
// cancellation-triggered entries. Indexers and dashboards reconstruct
// derived state from these rows rather than re-deriving tallies.
type BallotEvent struct {
	ID         uint      `gorm:"primaryKey"`
	RoundID    uint64    `gorm:"index"`
	Type       string    `gorm:"size:32;index"`
	Voter      string    `gorm:"size:128;index"` // empty for round-level events
	ProposalID uint64    `gorm:"index"`          // zero unless the event targets one proposal
	Payload    string    `gorm:"type:text"`      // JSON-encoded event data
	Timestamp  time.Time `gorm:"index"`
	CreatedAt  time.Time
}
