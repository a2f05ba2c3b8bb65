package payment

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignerConfig binds a signing key to the token contract the authorization
// targets.
type SignerConfig struct {
	TokenName    string // EIP-712 domain name, e.g. "USD Coin"
	TokenVersion string // EIP-712 domain version, e.g. "2"
	ChainID      int64
	TokenAddress string
	PrivateKey   *secp256k1.PrivateKey
}

// clockSkewCushion backdates validAfter so slightly-fast verifier clocks still
// accept the authorization.
const clockSkewCushion = 60 * time.Second

// ParsePrivateKey decodes a 32-byte hex private key, with or without a 0x
// prefix.
func ParsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// AddressOf derives the lowercase 0x address of a private key.
func AddressOf(key *secp256k1.PrivateKey) string {
	pub := key.PubKey().SerializeUncompressed()
	digest := Keccak256(pub[1:])
	return "0x" + hex.EncodeToString(digest[12:])
}

// SignAuthorization builds and signs the ERC-3009 structured-data payload for
// a challenge. Challenge fields are accepted under both the current camelCase
// and the legacy snake_case naming. validAfter is set to now minus a
// clock-skew cushion; validBefore comes from the challenge expiry; the nonce
// is 32 random bytes. The returned authorization is fully normalized.
func SignAuthorization(cfg SignerConfig, challenge map[string]interface{}) (Authorization, error) {
	if cfg.PrivateKey == nil {
		return Authorization{}, ValidationError("signing key is required")
	}

	payTo, ok := challengeString(challenge, "payTo", "pay_to")
	if !ok {
		return Authorization{}, ValidationError("challenge is missing payTo")
	}
	value, ok := challengeString(challenge, "amountAtomic", "amount_atomic")
	if !ok {
		value, ok = challengeString(challenge, "amount", "amount")
		if !ok {
			return Authorization{}, ValidationError("challenge is missing amountAtomic")
		}
	}
	expiry, err := challengeExpiry(challenge)
	if err != nil {
		return Authorization{}, err
	}

	valueDec, err := AsDecString(value)
	if err != nil {
		return Authorization{}, NewError(CodeValidationError, "challenge amount", err)
	}
	valueInt, ok := new(big.Int).SetString(valueDec, 10)
	if !ok || valueInt.Sign() < 0 {
		return Authorization{}, ValidationError("challenge amount %q is not an unsigned integer", value)
	}

	now := time.Now().UTC()
	validAfter := big.NewInt(now.Add(-clockSkewCushion).Unix())
	validBefore := big.NewInt(expiry.Unix())

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Authorization{}, fmt.Errorf("generate authorization nonce: %w", err)
	}

	fromAddr, err := HexToAddress(AddressOf(cfg.PrivateKey))
	if err != nil {
		return Authorization{}, err
	}
	toAddr, err := HexToAddress(payTo)
	if err != nil {
		return Authorization{}, NewError(CodeValidationError, "challenge payTo", err)
	}

	domain := TypedDomain{
		Name:              cfg.TokenName,
		Version:           cfg.TokenVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.TokenAddress,
	}
	digest, err := AuthorizationDigest(domain, fromAddr, toAddr, valueInt, validAfter, validBefore, nonce)
	if err != nil {
		return Authorization{}, err
	}

	signature := signRecoverable(cfg.PrivateKey, digest)

	auth := Authorization{
		From:        "0x" + hex.EncodeToString(fromAddr[:]),
		To:          "0x" + hex.EncodeToString(toAddr[:]),
		Value:       valueInt.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       "0x" + hex.EncodeToString(nonce[:]),
		Signature:   "0x" + hex.EncodeToString(signature),
	}
	normalized, err := NormalizeAuthorization(auth)
	if err != nil {
		return Authorization{}, err
	}
	if err := AssertAuthorizationShape(normalized); err != nil {
		return Authorization{}, err
	}
	return normalized, nil
}

// signRecoverable produces a 65-byte r||s||v signature with v in {27, 28}.
func signRecoverable(key *secp256k1.PrivateKey, digest []byte) []byte {
	compact := secpecdsa.SignCompact(key, digest, false)
	// SignCompact puts the recovery code first; Ethereum wants it last.
	sig := make([]byte, 65)
	copy(sig[:64], compact[1:])
	sig[64] = compact[0]
	return sig
}

// RecoverSigner returns the lowercase address that produced a 65-byte r||s||v
// signature over digest.
func RecoverSigner(digest, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", ValidationError("signature must be 65 bytes, got %d", len(signature))
	}
	compact := make([]byte, 65)
	compact[0] = signature[64]
	copy(compact[1:], signature[:64])
	pub, _, err := secpecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	raw := pub.SerializeUncompressed()
	sum := Keccak256(raw[1:])
	return "0x" + hex.EncodeToString(sum[12:]), nil
}

func challengeString(m map[string]interface{}, camel, snake string) (string, bool) {
	for _, key := range []string{camel, snake} {
		if v, ok := m[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s, true
				}
			case fmt.Stringer:
				return s.String(), true
			case float64:
				return new(big.Float).SetFloat64(s).Text('f', -1), true
			case int64:
				return big.NewInt(s).String(), true
			case int:
				return big.NewInt(int64(s)).String(), true
			}
		}
	}
	return "", false
}

func challengeExpiry(m map[string]interface{}) (time.Time, error) {
	for _, key := range []string{"expiresAt", "expires_at"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			t, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return time.Time{}, ValidationError("challenge %s %q is not RFC 3339", key, x)
			}
			return t, nil
		case float64:
			return time.Unix(int64(x), 0).UTC(), nil
		case int64:
			return time.Unix(x, 0).UTC(), nil
		}
	}
	return time.Time{}, ValidationError("challenge is missing a resolvable expiry")
}
