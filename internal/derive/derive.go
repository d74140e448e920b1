package derive

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/curve"
	"github.com/NethermindEth/starknet.go/utils"
)

// ErrInvalidFieldElement reports a value outside the Stark field (or not a
// field element at all). Raised at parse time; the hash loop itself never
// sees an out-of-range input.
var ErrInvalidFieldElement = errors.New("invalid field element")

const (
	// "STARKNET_CONTRACT_ADDRESS" as a big-endian felt: the domain separator
	// of the contract-address hash chain.
	contractAddressPrefixHex = "0x535441524b4e45545f434f4e54524143545f41444452455353"
)

var (
	contractAddressPrefix *felt.Felt

	// Addresses are bounded by 2^251 - 256; the raw Pedersen output is
	// reduced into this range.
	addrBound = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))

	// Stark field prime: 2^251 + 17*2^192 + 1.
	fieldPrime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
)

func init() {
	var err error
	contractAddressPrefix, err = new(felt.Felt).SetString(contractAddressPrefixHex)
	if err != nil {
		panic("contract address prefix: " + err.Error())
	}
}

// Deployer returns the deployer sentinel for self-deployed counterfactual
// accounts (zero).
func Deployer() *felt.Felt {
	return new(felt.Felt)
}

// CalldataHash returns the Pedersen array hash of the constructor calldata.
// An empty calldata slice is legal and hashes to PedersenArray().
func CalldataHash(calldata []*felt.Felt) *felt.Felt {
	return curve.PedersenArray(calldata...)
}

// ContractAddress computes the deterministic Starknet contract address for a
// deployment parameter set:
//
//	pedersen(prefix, deployer, salt, class_hash, pedersen(calldata)) mod 2^251 - 256
//
// Pure and allocation-light; this runs millions of times per search, so it
// must never touch the network.
func ContractAddress(deployer, classHash, salt *felt.Felt, calldata []*felt.Felt) *felt.Felt {
	raw := curve.PedersenArray(
		contractAddressPrefix,
		deployer,
		salt,
		classHash,
		CalldataHash(calldata),
	)
	b := utils.FeltToBigInt(raw)
	if b.Cmp(addrBound) < 0 {
		return raw
	}
	return utils.BigIntToFelt(b.Mod(b, addrBound))
}

// AccountAddress is ContractAddress with the zero deployer, the shape every
// counterfactual account uses.
func AccountAddress(classHash, salt *felt.Felt, calldata []*felt.Felt) *felt.Felt {
	return ContractAddress(Deployer(), classHash, salt, calldata)
}

// ParseFelt parses a hex ("0x...") or decimal string into a field element,
// rejecting values outside the field with ErrInvalidFieldElement.
func ParseFelt(s string) (*felt.Felt, error) {
	s = strings.TrimSpace(s)
	b, ok := new(big.Int).SetString(s, 0)
	if !ok || b.Sign() < 0 || b.Cmp(fieldPrime) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFieldElement, s)
	}
	return utils.BigIntToFelt(b), nil
}
