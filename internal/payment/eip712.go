package payment

import (
	"encoding/hex"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// EIP-712 typed-data hashing for the ERC-3009 TransferWithAuthorization
// struct. Only the static types the authorization needs are implemented.

var (
	eip712DomainTypeHash = Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	transferWithAuthorizationTypeHash = Keccak256([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// TypedDomain identifies the token contract the authorization targets.
type TypedDomain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// Keccak256 returns the legacy Keccak-256 digest used by Ethereum.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// DomainSeparator hashes the EIP-712 domain.
func DomainSeparator(d TypedDomain) ([]byte, error) {
	contract, err := HexToAddress(d.VerifyingContract)
	if err != nil {
		return nil, err
	}
	return Keccak256(
		eip712DomainTypeHash,
		Keccak256([]byte(d.Name)),
		Keccak256([]byte(d.Version)),
		Uint256Word(big.NewInt(d.ChainID)),
		AddressWord(contract),
	), nil
}

// AuthorizationDigest computes the EIP-712 signing digest for a
// transferWithAuthorization call: keccak256(0x19 0x01 || domainSeparator ||
// structHash).
func AuthorizationDigest(d TypedDomain, from, to [20]byte, value, validAfter, validBefore *big.Int, nonce [32]byte) ([]byte, error) {
	separator, err := DomainSeparator(d)
	if err != nil {
		return nil, err
	}
	structHash := Keccak256(
		transferWithAuthorizationTypeHash,
		AddressWord(from),
		AddressWord(to),
		Uint256Word(value),
		Uint256Word(validAfter),
		Uint256Word(validBefore),
		nonce[:],
	)
	return Keccak256([]byte{0x19, 0x01}, separator, structHash), nil
}

// HexToAddress decodes a 0x-prefixed 20-byte address.
func HexToAddress(s string) ([20]byte, error) {
	var out [20]byte
	normalized, err := NormalizeHex(s)
	if err != nil {
		return out, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(normalized, "0x"))
	if err != nil || len(raw) != 20 {
		return out, ValidationError("%q is not a 20-byte address", s)
	}
	copy(out[:], raw)
	return out, nil
}

// HexToHash32 decodes a 0x-prefixed 32-byte value.
func HexToHash32(s string) ([32]byte, error) {
	var out [32]byte
	normalized, err := NormalizeHex(s)
	if err != nil {
		return out, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(normalized, "0x"))
	if err != nil || len(raw) != 32 {
		return out, ValidationError("%q is not a 32-byte hex value", s)
	}
	copy(out[:], raw)
	return out, nil
}

// Uint256Word ABI-encodes an unsigned integer into a 32-byte word.
func Uint256Word(v *big.Int) []byte {
	word := make([]byte, 32)
	if v != nil {
		v.FillBytes(word)
	}
	return word
}

// AddressWord ABI-encodes an address into a left-padded 32-byte word.
func AddressWord(addr [20]byte) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr[:])
	return word
}
