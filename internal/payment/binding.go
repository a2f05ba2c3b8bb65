package payment

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BindingBanner is the fixed first line of a wallet binding message. The
// binding message proves that the wallet producing the token authorization is
// the same party endorsing a specific payment challenge, independent of the
// authorization signature.
const BindingBanner = "BEATGATE WALLET BINDING v1"

// Line ending styles reported by ParseBindingMessage.
const (
	LineEndingLF   = "lf"
	LineEndingCRLF = "crlf"
)

// BindingMessage is the parsed form of a wallet binding message, plus
// formatting diagnostics.
type BindingMessage struct {
	ChallengeID string
	TS          int64 // unix seconds
	TTL         int64 // seconds
	Nonce       string // 64 hex chars, no 0x prefix

	LineEnding      string
	TrailingNewline bool
}

// BuildBindingMessage emits the canonical three-line message, LF-joined with
// no trailing newline. When nonce is empty a random 32-byte nonce is
// generated.
func BuildBindingMessage(challengeID string, ts, ttl int64, nonce string) (string, error) {
	if _, err := uuid.Parse(challengeID); err != nil {
		return "", ValidationError("challengeId %q is not a UUID", challengeID)
	}
	if ts <= 0 {
		return "", ValidationError("ts must be a positive unix timestamp, got %d", ts)
	}
	if ttl <= 0 {
		return "", ValidationError("ttl must be a positive number of seconds, got %d", ttl)
	}
	if nonce == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate binding nonce: %w", err)
		}
		nonce = hex.EncodeToString(buf)
	}
	if !isBindingNonce(nonce) {
		return "", ValidationError("nonce must be 64 hex characters")
	}
	nonce = strings.ToLower(nonce)

	lines := []string{
		BindingBanner,
		fmt.Sprintf("challengeId=%s; ts=%d; ttl=%d", challengeID, ts, ttl),
		"nonce=" + nonce,
	}
	return strings.Join(lines, "\n"), nil
}

// ParseBindingMessage parses a binding message, tolerating CRLF line endings
// and one blank trailing line. It rejects wrong line counts, a wrong banner,
// malformed key/value groups, a non-UUID challengeId, non-positive ts or ttl,
// and a malformed nonce.
func ParseBindingMessage(message string) (BindingMessage, error) {
	var out BindingMessage

	out.LineEnding = LineEndingLF
	if strings.Contains(message, "\r\n") {
		out.LineEnding = LineEndingCRLF
	}
	normalized := strings.ReplaceAll(message, "\r\n", "\n")
	if strings.Contains(normalized, "\r") {
		return BindingMessage{}, ValidationError("binding message contains a bare carriage return")
	}
	if strings.HasSuffix(normalized, "\n") {
		out.TrailingNewline = true
		normalized = strings.TrimSuffix(normalized, "\n")
	}

	lines := strings.Split(normalized, "\n")
	if len(lines) != 3 {
		return BindingMessage{}, ValidationError("binding message must have exactly 3 lines, got %d", len(lines))
	}
	if lines[0] != BindingBanner {
		return BindingMessage{}, ValidationError("unexpected binding message banner")
	}

	fields, err := parseBindingFields(lines[1])
	if err != nil {
		return BindingMessage{}, err
	}
	if _, err := uuid.Parse(fields["challengeId"]); err != nil {
		return BindingMessage{}, ValidationError("challengeId %q is not a UUID", fields["challengeId"])
	}
	out.ChallengeID = fields["challengeId"]

	if out.TS, err = parsePositiveInt("ts", fields["ts"]); err != nil {
		return BindingMessage{}, err
	}
	if out.TTL, err = parsePositiveInt("ttl", fields["ttl"]); err != nil {
		return BindingMessage{}, err
	}

	key, value, ok := splitKeyValue(lines[2])
	if !ok || key != "nonce" {
		return BindingMessage{}, ValidationError("third line must be nonce=<64 hex chars>")
	}
	if !isBindingNonce(value) {
		return BindingMessage{}, ValidationError("nonce must be 64 hex characters")
	}
	out.Nonce = strings.ToLower(value)

	return out, nil
}

// ValidateBindingMessage parses and checks a binding message against the
// expected challenge using the current clock.
func ValidateBindingMessage(message, expectedChallengeID string, clockSkewTolerance time.Duration) (BindingMessage, error) {
	return ValidateBindingMessageAt(message, expectedChallengeID, clockSkewTolerance, time.Now())
}

// ValidateBindingMessageAt is ValidateBindingMessage with an explicit clock.
// The skew and TTL checks are independent: a message can pass skew tolerance
// yet already be expired.
func ValidateBindingMessageAt(message, expectedChallengeID string, clockSkewTolerance time.Duration, now time.Time) (BindingMessage, error) {
	parsed, err := ParseBindingMessage(message)
	if err != nil {
		return BindingMessage{}, err
	}
	if parsed.ChallengeID != expectedChallengeID {
		return BindingMessage{}, ValidationError("Challenge ID mismatch")
	}

	nowUnix := now.Unix()
	skew := nowUnix - parsed.TS
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(clockSkewTolerance/time.Second) {
		return BindingMessage{}, ValidationError("Clock skew too large")
	}
	if nowUnix > parsed.TS+parsed.TTL {
		return BindingMessage{}, ValidationError("Message expired")
	}
	return parsed, nil
}

// MaskForLogging renders a binding message with the challenge ID and nonce
// truncated so diagnostic logs never carry replayable material.
func MaskForLogging(m BindingMessage) string {
	return fmt.Sprintf("challengeId=%s ts=%d ttl=%d nonce=%s",
		maskValue(m.ChallengeID), m.TS, m.TTL, maskValue(m.Nonce))
}

func maskValue(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

func parseBindingFields(line string) (map[string]string, error) {
	groups := strings.Split(line, ";")
	if len(groups) != 3 {
		return nil, ValidationError("second line must have challengeId, ts and ttl groups")
	}
	wantKeys := []string{"challengeId", "ts", "ttl"}
	fields := make(map[string]string, 3)
	for i, group := range groups {
		key, value, ok := splitKeyValue(group)
		if !ok {
			return nil, ValidationError("malformed key/value group %q", strings.TrimSpace(group))
		}
		if key != wantKeys[i] {
			return nil, ValidationError("expected %s group, got %q", wantKeys[i], key)
		}
		fields[key] = value
	}
	return fields, nil
}

func splitKeyValue(s string) (key, value string, ok bool) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	key = strings.TrimSpace(parts[0])
	value = strings.TrimSpace(parts[1])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func parsePositiveInt(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ValidationError("%s must be an integer, got %q", name, s)
	}
	if n <= 0 {
		return 0, ValidationError("%s must be positive, got %d", name, n)
	}
	return n, nil
}

func isBindingNonce(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
