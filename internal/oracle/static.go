package oracle

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Static is an in-memory oracle backed by a fixed member/weight table and
// an optional allocation table. It serves deployments without a membership
// daemon and doubles as a test fixture.
type Static struct {
	mu          sync.RWMutex
	weights     map[string]uint64
	allocations map[allocKey]uint64
}

type allocKey struct {
	identity   string
	proposalID uint64
}

// Compile-time interface checks
var (
	_ WeightOracle     = (*Static)(nil)
	_ AllocationOracle = (*Static)(nil)
)

// NewStatic creates an empty static oracle.
func NewStatic() *Static {
	return &Static{
		weights:     make(map[string]uint64),
		allocations: make(map[allocKey]uint64),
	}
}

// SetMember adds or updates a member. A zero weight keeps the member
// eligible but weightless.
func (s *Static) SetMember(identity string, weight uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[identity] = weight
}

// RemoveMember drops a member entirely.
func (s *Static) RemoveMember(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.weights, identity)
}

// SetAllocation records a funding allocation from identity toward a proposal.
func (s *Static) SetAllocation(identity string, proposalID uint64, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[allocKey{identity, proposalID}] = amount
}

func (s *Static) IsEligible(identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.weights[identity]
	return ok, nil
}

func (s *Static) WeightOf(identity string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights[identity], nil
}

func (s *Static) EligibleMemberCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.weights)), nil
}

func (s *Static) AllocatedAmount(identity string, proposalID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocations[allocKey{identity, proposalID}], nil
}

// ParseStaticMembers builds a static oracle from a "id:weight,id:weight"
// spec, as accepted by the STATIC_MEMBERS environment variable.
func ParseStaticMembers(spec string) (*Static, error) {
	s := NewStatic()
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, weightStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid member entry %q (want id:weight)", part)
		}
		weight, err := strconv.ParseUint(strings.TrimSpace(weightStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight in %q: %w", part, err)
		}
		s.SetMember(strings.TrimSpace(id), weight)
	}
	return s, nil
}

// ParseStaticAllocations loads "identity:proposal:amount" triples into an
// existing static oracle, as accepted by STATIC_ALLOCATIONS.
func ParseStaticAllocations(s *Static, spec string) error {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return fmt.Errorf("invalid allocation entry %q (want identity:proposal:amount)", part)
		}
		proposalID, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid proposal id in %q: %w", part, err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount in %q: %w", part, err)
		}
		s.SetAllocation(strings.TrimSpace(fields[0]), proposalID, amount)
	}
	return nil
}
