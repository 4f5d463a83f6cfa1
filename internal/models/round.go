package models

import "time"

// RoundRecord is the finalized summary row written once per round when the
// engine emits its final snapshot.
type RoundRecord struct {
	ID                    uint      `gorm:"primaryKey"`
	RoundID               uint64    `gorm:"uniqueIndex;not null"`
	StartCommit           time.Time `gorm:"index"`
	EndCommit             time.Time
	EndReveal             time.Time
	CountingMethod        string `gorm:"size:16"`
	SnapshotEligibleCount uint64
	CancellationThreshold uint64
	AutoCancellation      bool
	TotalCommitted        uint64
	TotalRevealed         uint64
	TurnoutPercent        uint64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
