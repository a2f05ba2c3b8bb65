package payment

import (
	"math"
	"math/big"
	"strings"
)

// AsDecString canonicalizes a numeric value into a decimal string with no
// leading zeros and no scientific notation. Accepted inputs are the integer
// kinds, big.Int, finite floats and numeric strings.
func AsDecString(v interface{}) (string, error) {
	switch x := v.(type) {
	case int:
		return big.NewInt(int64(x)).String(), nil
	case int32:
		return big.NewInt(int64(x)).String(), nil
	case int64:
		return big.NewInt(x).String(), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)).String(), nil
	case uint64:
		return new(big.Int).SetUint64(x).String(), nil
	case *big.Int:
		if x == nil {
			return "", ValidationError("nil big integer")
		}
		return x.String(), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", ValidationError("non-finite number %v", x)
		}
		// Amounts are atomic units; a fractional value has no integer
		// canonical form.
		if x != math.Trunc(x) {
			return "", ValidationError("non-integer number %v", x)
		}
		n, _ := new(big.Float).SetFloat64(x).Int(nil)
		return n.String(), nil
	case string:
		return decStringFromString(x)
	default:
		return "", ValidationError("unsupported numeric type %T", v)
	}
}

func decStringFromString(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ValidationError("empty numeric string")
	}
	neg := false
	if trimmed[0] == '-' {
		neg = true
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return "", ValidationError("non-numeric string %q", s)
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", ValidationError("non-numeric string %q", s)
		}
	}
	trimmed = strings.TrimLeft(trimmed, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	if neg && trimmed != "0" {
		return "-" + trimmed, nil
	}
	return trimmed, nil
}

// NormalizeHex validates a 0x-prefixed hex string and lowercases it.
func NormalizeHex(s string) (string, error) {
	if len(s) < 2 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", ValidationError("hex string %q missing 0x prefix", s)
	}
	body := s[2:]
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return "", ValidationError("invalid hex character %q in %q", r, s)
		}
	}
	return "0x" + strings.ToLower(body), nil
}

// NormalizeAuthorization canonicalizes all seven authorization fields.
func NormalizeAuthorization(a Authorization) (Authorization, error) {
	var (
		out Authorization
		err error
	)
	if out.From, err = NormalizeHex(a.From); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.from", err)
	}
	if out.To, err = NormalizeHex(a.To); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.to", err)
	}
	if out.Value, err = AsDecString(a.Value); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.value", err)
	}
	if out.ValidAfter, err = AsDecString(a.ValidAfter); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.validAfter", err)
	}
	if out.ValidBefore, err = AsDecString(a.ValidBefore); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.validBefore", err)
	}
	if out.Nonce, err = NormalizeHex(a.Nonce); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.nonce", err)
	}
	if out.Signature, err = NormalizeHex(a.Signature); err != nil {
		return Authorization{}, NewError(CodeValidationError, "authorization.signature", err)
	}
	return out, nil
}

// AssertAuthorizationShape enforces exact field lengths and unsigned decimal
// numerics on an already-normalized authorization. Errors name the offending
// field.
func AssertAuthorizationShape(a Authorization) error {
	if len(a.From) != 42 {
		return ValidationError("authorization.from must be a 20-byte hex address, got %d characters", len(a.From))
	}
	if len(a.To) != 42 {
		return ValidationError("authorization.to must be a 20-byte hex address, got %d characters", len(a.To))
	}
	if len(a.Nonce) != 66 {
		return ValidationError("authorization.nonce must be 66 characters (0x + 64 hex), got %d", len(a.Nonce))
	}
	if len(a.Signature) != 132 {
		return ValidationError("authorization.signature must be 132 characters (0x + 130 hex), got %d", len(a.Signature))
	}
	for _, f := range []struct{ name, value string }{
		{"authorization.value", a.Value},
		{"authorization.validAfter", a.ValidAfter},
		{"authorization.validBefore", a.ValidBefore},
	} {
		if !isUnsignedDecimal(f.value) {
			return ValidationError("%s must be an unsigned decimal integer, got %q", f.name, f.value)
		}
	}
	return nil
}

func isUnsignedDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) == 1 || s[0] != '0'
}
