package chain

import "math/big"

// rlpBytes encodes a byte string per RLP.
func rlpBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	return append(rlpLength(len(b), 0x80), b...)
}

// rlpList encodes pre-encoded items as an RLP list.
func rlpList(items ...[]byte) []byte {
	var payload []byte
	for _, item := range items {
		payload = append(payload, item...)
	}
	return append(rlpLength(len(payload), 0xc0), payload...)
}

func rlpLength(n int, offset byte) []byte {
	if n < 56 {
		return []byte{offset + byte(n)}
	}
	size := big.NewInt(int64(n)).Bytes()
	head := []byte{offset + 55 + byte(len(size))}
	return append(head, size...)
}

// rlpUint encodes an unsigned integer as a minimal big-endian byte string.
// Zero encodes as the empty string per RLP.
func rlpUint(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return rlpBytes(nil)
	}
	return rlpBytes(v.Bytes())
}

func rlpUint64(v uint64) []byte {
	return rlpUint(new(big.Int).SetUint64(v))
}
