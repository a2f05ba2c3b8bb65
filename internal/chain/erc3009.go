package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/beatgate/beatgate/internal/payment"
)

// transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)
var transferWithAuthorizationSelector = payment.Keccak256(
	[]byte("transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)"),
)[:4]

// TransferWithAuthorizationCalldata ABI-encodes a transferWithAuthorization
// call from a normalized authorization. The 65-byte signature is split into
// its r, s and v components.
func TransferWithAuthorizationCalldata(auth payment.Authorization) ([]byte, error) {
	from, err := payment.HexToAddress(auth.From)
	if err != nil {
		return nil, fmt.Errorf("authorization.from: %w", err)
	}
	to, err := payment.HexToAddress(auth.To)
	if err != nil {
		return nil, fmt.Errorf("authorization.to: %w", err)
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("authorization.value is not a decimal integer")
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("authorization.validAfter is not a decimal integer")
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("authorization.validBefore is not a decimal integer")
	}
	nonce, err := payment.HexToHash32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("authorization.nonce: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(auth.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("authorization.signature must be 65 bytes of hex")
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}

	data := make([]byte, 0, 4+9*32)
	data = append(data, transferWithAuthorizationSelector...)
	data = append(data, payment.AddressWord(from)...)
	data = append(data, payment.AddressWord(to)...)
	data = append(data, payment.Uint256Word(value)...)
	data = append(data, payment.Uint256Word(validAfter)...)
	data = append(data, payment.Uint256Word(validBefore)...)
	data = append(data, nonce[:]...)
	data = append(data, payment.Uint256Word(new(big.Int).SetUint64(uint64(v)))...)
	data = append(data, sig[0:32]...)  // r
	data = append(data, sig[32:64]...) // s
	return data, nil
}
