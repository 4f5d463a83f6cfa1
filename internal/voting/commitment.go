package voting

import (
	"encoding/binary"

	"github.com/cometbft/cometbft/crypto/tmhash"
)

// CommitmentSize is the fixed size of a commitment digest in bytes.
const CommitmentSize = tmhash.Size

// SecretSize is the fixed size of the opening secret in bytes.
const SecretSize = 32

// Commitment is the sealed, opaque binding of a ballot. The zero value
// means "no live commitment".
type Commitment [CommitmentSize]byte

// Secret is the opening secret chosen by the voter at commit time. Losing
// it makes the commitment permanently unrevealable; there is no recovery.
type Secret [SecretSize]byte

// IsZero reports whether the commitment is unset (or consumed by a reveal).
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// ComputeCommitment derives the commitment digest for a ballot. The
// encoding is the interoperability contract and must be reproduced
// bit-exactly by any client:
//
//	for each proposal id, in list order: 8 bytes big-endian
//	for each choice, in list order:      1 byte (see Choice constants)
//	secret:                              32 raw bytes
//	voter identity:                      UTF-8 bytes, no terminator
//
// concatenated in that field order and hashed with SHA-256 (tmhash).
// Reordering either list, flipping a single choice, a different secret or
// a different voter all produce a different digest.
func ComputeCommitment(proposals []ProposalID, choices []Choice, secret Secret, voter VoterID) Commitment {
	buf := make([]byte, 0, 8*len(proposals)+len(choices)+SecretSize+len(voter))
	var idBytes [8]byte
	for _, p := range proposals {
		binary.BigEndian.PutUint64(idBytes[:], uint64(p))
		buf = append(buf, idBytes[:]...)
	}
	for _, c := range choices {
		buf = append(buf, byte(c))
	}
	buf = append(buf, secret[:]...)
	buf = append(buf, []byte(voter)...)

	var out Commitment
	copy(out[:], tmhash.Sum(buf))
	return out
}
