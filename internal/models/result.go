package models

import "time"

// ProposalResult stores the final per-proposal tallies for a finalized
// round, one row per (round, proposal).
type ProposalResult struct {
	ID                    uint   `gorm:"primaryKey"`
	RoundID               uint64 `gorm:"index:ux_round_proposal,unique;index"`
	ProposalID            uint64 `gorm:"index:ux_round_proposal,unique;index"`
	ForWeight             uint64
	AgainstWeight         uint64
	AbstainCount          uint64
	NotParticipatingCount uint64
	BordaPoints           uint64
	CancellationTriggered bool `gorm:"index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
