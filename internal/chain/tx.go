package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/beatgate/beatgate/internal/payment"
)

// LegacyTx is a pre-EIP-1559 transaction.
type LegacyTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       [20]byte
	Value    *big.Int
	Data     []byte
}

// SignLegacyTx signs tx with EIP-155 replay protection and returns the
// raw transaction as a 0x-prefixed hex string ready for
// eth_sendRawTransaction.
func SignLegacyTx(tx LegacyTx, chainID int64, key *secp256k1.PrivateKey) (string, error) {
	if chainID <= 0 {
		return "", fmt.Errorf("chain id must be positive")
	}
	if key == nil {
		return "", fmt.Errorf("signing key required")
	}

	chain := big.NewInt(chainID)
	sighash := payment.Keccak256(rlpList(
		rlpUint64(tx.Nonce),
		rlpUint(tx.GasPrice),
		rlpUint64(tx.Gas),
		rlpBytes(tx.To[:]),
		rlpUint(tx.Value),
		rlpBytes(tx.Data),
		rlpUint(chain),
		rlpBytes(nil),
		rlpBytes(nil),
	))

	// SignCompact yields [v+27+compressed][r][s]; the recovery id lives
	// in the head byte.
	compact := ecdsa.SignCompact(key, sighash, false)
	recID := int64(compact[0]) - 27

	r := new(big.Int).SetBytes(compact[1:33])
	s := new(big.Int).SetBytes(compact[33:65])
	v := new(big.Int).SetInt64(recID + 35 + 2*chainID)

	raw := rlpList(
		rlpUint64(tx.Nonce),
		rlpUint(tx.GasPrice),
		rlpUint64(tx.Gas),
		rlpBytes(tx.To[:]),
		rlpUint(tx.Value),
		rlpBytes(tx.Data),
		rlpUint(v),
		rlpUint(r),
		rlpUint(s),
	)
	return "0x" + hex.EncodeToString(raw), nil
}
