package payment

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testSignerConfig(t *testing.T) SignerConfig {
	t.Helper()
	key, err := ParsePrivateKey(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return SignerConfig{
		TokenName:    "USD Coin",
		TokenVersion: "2",
		ChainID:      8453,
		TokenAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		PrivateKey:   key,
	}
}

func TestKeccak256EmptyInput(t *testing.T) {
	got := hex.EncodeToString(Keccak256(nil))
	// Well-known Keccak-256 digest of the empty string.
	want := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got != want {
		t.Fatalf("keccak256(\"\") = %s, want %s", got, want)
	}
}

func TestParsePrivateKey(t *testing.T) {
	if _, err := ParsePrivateKey("0x" + testKeyHex); err != nil {
		t.Fatalf("prefixed key: %v", err)
	}
	if _, err := ParsePrivateKey("zz"); err == nil {
		t.Fatalf("expected error for non-hex key")
	}
	if _, err := ParsePrivateKey("abcd"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestSignAuthorization(t *testing.T) {
	cfg := testSignerConfig(t)
	expiry := time.Now().Add(5 * time.Minute).UTC()
	challenge := map[string]interface{}{
		"payTo":        "0xBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbb",
		"amountAtomic": "150000",
		"expiresAt":    expiry.Format(time.RFC3339),
	}

	auth, err := SignAuthorization(cfg, challenge)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if auth.From != AddressOf(cfg.PrivateKey) {
		t.Fatalf("from = %s, want %s", auth.From, AddressOf(cfg.PrivateKey))
	}
	if auth.To != "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Fatalf("to not normalized: %s", auth.To)
	}
	if auth.Value != "150000" {
		t.Fatalf("value = %s", auth.Value)
	}
	if err := AssertAuthorizationShape(auth); err != nil {
		t.Fatalf("shape: %v", err)
	}

	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	now := time.Now().Unix()
	if validAfter.Int64() > now-30 {
		t.Fatalf("validAfter %d lacks the clock-skew cushion (now %d)", validAfter.Int64(), now)
	}
	if validBefore.Int64() != expiry.Unix() {
		t.Fatalf("validBefore = %d, want %d", validBefore.Int64(), expiry.Unix())
	}
}

func TestSignAuthorizationRecoversSigner(t *testing.T) {
	cfg := testSignerConfig(t)
	challenge := map[string]interface{}{
		"payTo":        "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"amountAtomic": "150000",
		"expiresAt":    time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	}

	auth, err := SignAuthorization(cfg, challenge)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	from, _ := HexToAddress(auth.From)
	to, _ := HexToAddress(auth.To)
	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonce, err := HexToHash32(auth.Nonce)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}

	domain := TypedDomain{
		Name:              cfg.TokenName,
		Version:           cfg.TokenVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.TokenAddress,
	}
	digest, err := AuthorizationDigest(domain, from, to, value, validAfter, validBefore, nonce)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(auth.Signature, "0x"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != auth.From {
		t.Fatalf("recovered %s, want %s", recovered, auth.From)
	}
}

func TestSignAuthorizationLegacyFieldNames(t *testing.T) {
	cfg := testSignerConfig(t)
	challenge := map[string]interface{}{
		"pay_to":        "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"amount_atomic": "150000",
		"expires_at":    time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	}
	if _, err := SignAuthorization(cfg, challenge); err != nil {
		t.Fatalf("legacy naming should be accepted: %v", err)
	}
}

func TestSignAuthorizationMissingFields(t *testing.T) {
	cfg := testSignerConfig(t)

	_, err := SignAuthorization(cfg, map[string]interface{}{
		"amountAtomic": "150000",
		"expiresAt":    time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	})
	if err == nil || !strings.Contains(err.Error(), "payTo") {
		t.Fatalf("expected payTo error, got %v", err)
	}

	_, err = SignAuthorization(cfg, map[string]interface{}{
		"payTo":        "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"amountAtomic": "150000",
	})
	if err == nil || !strings.Contains(err.Error(), "expiry") {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestDomainSeparatorStable(t *testing.T) {
	d := TypedDomain{Name: "USD Coin", Version: "2", ChainID: 8453,
		VerifyingContract: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"}
	a, err := DomainSeparator(d)
	if err != nil {
		t.Fatalf("separator: %v", err)
	}
	b, _ := DomainSeparator(d)
	if hex.EncodeToString(a) != hex.EncodeToString(b) {
		t.Fatalf("domain separator must be deterministic")
	}

	other := d
	other.ChainID = 1
	c, _ := DomainSeparator(other)
	if hex.EncodeToString(a) == hex.EncodeToString(c) {
		t.Fatalf("different chains must produce different separators")
	}
}
