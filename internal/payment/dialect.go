package payment

import "strconv"

// Dialect selects the wire shape a facilitator expects. Selection is a caller
// concern, keyed off the configured facilitator identity; builders perform no
// I/O and are independently testable.
type Dialect string

const (
	// DialectCanonical emits the current protocol: integer chainId, nested
	// authorization, no duplicated signature.
	DialectCanonical Dialect = "canonical"

	// DialectCompat matches canonical but duplicates the signature at the top
	// level for facilitators that read either location.
	DialectCompat Dialect = "compat"

	// DialectLegacy renames fields and stringifies chainId. It fails against
	// the current protocol and is retained only to probe older deployments.
	DialectLegacy Dialect = "legacy"

	// DialectPayAIV1 nests the data in paymentPayload/paymentRequirements with
	// the protocol version tag duplicated for parser compatibility.
	DialectPayAIV1 Dialect = "payai-v1"
)

const payAIProtocolVersion = 1

// BuildInput is a normalized challenge/authorization pair ready for a dialect
// builder. All hex fields must already be lowercase and all numerics leading
// zero free decimal strings.
type BuildInput struct {
	Chain         string
	ChainID       int64
	TokenAddress  string
	Asset         string
	PayTo         string
	AmountAtomic  string
	Authorization Authorization
}

// BuildVerifyBody emits the facilitator-specific JSON body for the input.
func BuildVerifyBody(d Dialect, in BuildInput) (map[string]interface{}, error) {
	switch d {
	case DialectCanonical:
		return buildCanonical(in), nil
	case DialectCompat:
		body := buildCanonical(in)
		body["signature"] = in.Authorization.Signature
		return body, nil
	case DialectLegacy:
		return buildLegacy(in), nil
	case DialectPayAIV1:
		return buildPayAIV1(in), nil
	default:
		return nil, ValidationError("unknown facilitator dialect %q", string(d))
	}
}

func authorizationBody(a Authorization) map[string]interface{} {
	return map[string]interface{}{
		"from":        a.From,
		"to":          a.To,
		"value":       a.Value,
		"validAfter":  a.ValidAfter,
		"validBefore": a.ValidBefore,
		"nonce":       a.Nonce,
		"signature":   a.Signature,
	}
}

func buildCanonical(in BuildInput) map[string]interface{} {
	return map[string]interface{}{
		"scheme":        "erc3009",
		"chainId":       in.ChainID,
		"tokenAddress":  in.TokenAddress,
		"payTo":         in.PayTo,
		"amountAtomic":  in.AmountAtomic,
		"authorization": authorizationBody(in.Authorization),
	}
}

func buildLegacy(in BuildInput) map[string]interface{} {
	return map[string]interface{}{
		"scheme":        "erc3009",
		"chain":         in.Chain,
		"chainId":       strconv.FormatInt(in.ChainID, 10),
		"token":         in.TokenAddress,
		"asset":         in.Asset,
		"recipient":     in.PayTo,
		"amount":        in.AmountAtomic,
		"authorization": authorizationBody(in.Authorization),
	}
}

func buildPayAIV1(in BuildInput) map[string]interface{} {
	return map[string]interface{}{
		"x402Version": payAIProtocolVersion,
		"paymentPayload": map[string]interface{}{
			// Version repeated here because some parser generations only read
			// the nested location.
			"x402Version": payAIProtocolVersion,
			"scheme":      "exact",
			"network":     in.Chain,
			"payload": map[string]interface{}{
				"signature": in.Authorization.Signature,
				"authorization": map[string]interface{}{
					"from":        in.Authorization.From,
					"to":          in.Authorization.To,
					"value":       in.Authorization.Value,
					"validAfter":  in.Authorization.ValidAfter,
					"validBefore": in.Authorization.ValidBefore,
					"nonce":       in.Authorization.Nonce,
				},
			},
		},
		"paymentRequirements": map[string]interface{}{
			"scheme":            "exact",
			"network":           in.Chain,
			"asset":             in.TokenAddress,
			"payTo":             in.PayTo,
			"maxAmountRequired": in.AmountAtomic,
		},
	}
}
