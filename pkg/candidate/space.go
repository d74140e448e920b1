package candidate

import (
	"errors"
	"math"
	"math/bits"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

// Errors
var (
	ErrEmptyDimension = errors.New("candidate space has an empty dimension")
	ErrSaltSpec       = errors.New("exactly one of salt values or salt range must be set")
)

// Spec configures a candidate space. Placeholder salts ("use the public key")
// must already be substituted by the caller; SaltValues and SaltRange are
// mutually exclusive.
type Spec struct {
	ClassHashes []*felt.Felt
	SaltValues  []*felt.Felt
	SaltRange   uint64 // enumerates [0, SaltRange) when SaltValues is nil
	Patterns    []types.Pattern
	PublicKey   *felt.Felt
}

// Space is a deterministic, finite, lazily enumerated set of deployment
// parameter candidates. Nesting order is class hash, then salt, then calldata
// pattern: a wrong class hash can never match, so hashes vary least often and
// partitioning by hash keeps partitions independent.
type Space struct {
	spec      Spec
	saltCount uint64
	perHash   uint64
}

// NewSpace validates the spec and fixes the enumeration order.
func NewSpace(spec Spec) (*Space, error) {
	if (spec.SaltValues != nil) == (spec.SaltRange != 0) {
		return nil, ErrSaltSpec
	}
	saltCount := uint64(len(spec.SaltValues))
	if spec.SaltValues == nil {
		saltCount = spec.SaltRange
	}
	if len(spec.ClassHashes) == 0 || saltCount == 0 || len(spec.Patterns) == 0 {
		return nil, ErrEmptyDimension
	}
	perHash, overflow := mulSat(saltCount, uint64(len(spec.Patterns)))
	if overflow {
		return nil, errors.New("candidate space per-hash size overflows uint64")
	}
	return &Space{spec: spec, saltCount: saltCount, perHash: perHash}, nil
}

// Size is the total candidate count: |hashes| x |salts| x |patterns|. The
// product, not the sum — callers should surface this before a long search.
func (s *Space) Size() uint64 {
	total, overflow := mulSat(uint64(len(s.spec.ClassHashes)), s.perHash)
	if overflow {
		return math.MaxUint64
	}
	return total
}

// Partitions returns the number of independent partitions (one per class
// hash).
func (s *Space) Partitions() int {
	return len(s.spec.ClassHashes)
}

// Partition returns a cursor over the candidates of one class hash, carrying
// global enumeration indices. Within a partition indices are strictly
// increasing, which is what lets a parallel search reason about the smallest
// global match.
func (s *Space) Partition(i int) *Cursor {
	return &Cursor{
		space:   s,
		hashIdx: i,
		hashEnd: i + 1,
		index:   uint64(i) * s.perHash,
	}
}

// All returns a cursor over the full space in enumeration order.
func (s *Space) All() *Cursor {
	return &Cursor{space: s, hashEnd: len(s.spec.ClassHashes)}
}

// Cursor walks candidates in the deterministic enumeration order. Restartable
// only from the beginning: take a fresh cursor from the Space.
type Cursor struct {
	space            *Space
	hashIdx, hashEnd int
	saltIdx          uint64
	patIdx           int
	index            uint64
}

// Next yields the next fully resolved candidate, or false on exhaustion.
func (c *Cursor) Next() (types.Candidate, bool) {
	if c.hashIdx >= c.hashEnd {
		return types.Candidate{}, false
	}
	salt := c.space.salt(c.saltIdx)
	cand := types.Candidate{
		Index:     c.index,
		ClassHash: c.space.spec.ClassHashes[c.hashIdx],
		Salt:      salt,
		Calldata:  resolve(c.space.spec.Patterns[c.patIdx], c.space.spec.PublicKey, salt),
	}
	c.advance()
	return cand, true
}

func (c *Cursor) advance() {
	c.index++
	c.patIdx++
	if c.patIdx < len(c.space.spec.Patterns) {
		return
	}
	c.patIdx = 0
	c.saltIdx++
	if c.saltIdx < c.space.saltCount {
		return
	}
	c.saltIdx = 0
	c.hashIdx++
}

func (s *Space) salt(i uint64) *felt.Felt {
	if s.spec.SaltValues != nil {
		return s.spec.SaltValues[i]
	}
	return new(felt.Felt).SetUint64(i)
}

// resolve instantiates a calldata template, filling placeholder slots with
// the public key or the current salt.
func resolve(p types.Pattern, publicKey, salt *felt.Felt) []*felt.Felt {
	out := make([]*felt.Felt, len(p))
	for i, elem := range p {
		switch elem.Placeholder {
		case types.PublicKeyPlaceholder:
			out[i] = publicKey
		case types.SaltPlaceholder:
			out[i] = salt
		default:
			out[i] = elem.Literal
		}
	}
	return out
}

func mulSat(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi != 0
}
