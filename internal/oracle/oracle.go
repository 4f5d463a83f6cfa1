// Package oracle defines the external collaborator interfaces the voting
// engine consumes: membership weighting and funding-allocation lookups.
// Implementations cross a trust boundary; any failure from them aborts the
// enclosing engine operation.
package oracle

import (
	"errors"
	"fmt"
)

// WeightOracle answers eligibility and voting-weight questions for member
// identities, plus the eligible-member count used as a turnout denominator.
type WeightOracle interface {
	// IsEligible reports whether the identity is an eligible member.
	IsEligible(identity string) (bool, error)

	// WeightOf returns the identity's current voting weight. The weighting
	// formula is the membership system's concern, not ours.
	WeightOf(identity string) (uint64, error)

	// EligibleMemberCount returns the current number of eligible members.
	// The engine reads this once per round, at creation.
	EligibleMemberCount() (uint64, error)
}

// AllocationOracle reports recorded funding allocations from an identity
// toward a proposal. A nonzero amount triggers the engine's For-vote
// weight bonus.
type AllocationOracle interface {
	AllocatedAmount(identity string, proposalID uint64) (uint64, error)
}

// Verify OracleError implements the error interface.
var _ error = (*OracleError)(nil)

// OracleError is an error response from an oracle daemon. It carries both
// a machine-readable code and a human-readable message.
type OracleError struct {
	// Code is a machine-readable error code (e.g., "not_found", "internal", "bad_request")
	Code string

	// Msg is a human-readable error message
	Msg string
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle error [%s]: %s", e.Code, e.Msg)
}

// IsOracleError checks if err is an OracleError with the specified code.
// It handles wrapped errors using errors.As.
func IsOracleError(err error, code string) bool {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}
