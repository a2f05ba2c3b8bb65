package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/beatgate/beatgate/pkg/logger"
)

// VerifyOutcome is a facilitator's answer to a verify call.
type VerifyOutcome struct {
	Valid  bool
	Payer  string
	TxHash string
	Reason string
}

// SettleOutcome is a facilitator's answer to a settle call.
type SettleOutcome struct {
	TxHash string
	Payer  string
}

// FacilitatorConfig configures a facilitator client.
type FacilitatorConfig struct {
	BaseURL string
	Dialect Dialect
	Timeout time.Duration
	Logger  *logger.Logger
}

// FacilitatorClient talks to one third-party verification/settlement service
// in its configured wire dialect.
type FacilitatorClient struct {
	baseURL    string
	dialect    Dialect
	httpClient *http.Client
	log        *logger.Logger
}

// NewFacilitatorClient creates a client. The timeout defaults to 30s and
// bounds every outbound call; callers may tighten it further per request via
// context.
func NewFacilitatorClient(cfg FacilitatorConfig) *FacilitatorClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = DialectCanonical
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("facilitator")
	}
	return &FacilitatorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dialect:    dialect,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Dialect returns the configured wire dialect.
func (c *FacilitatorClient) Dialect() Dialect {
	return c.dialect
}

// Verify checks a payment via POST {base}/verify without settling it.
func (c *FacilitatorClient) Verify(ctx context.Context, in BuildInput) (*VerifyOutcome, error) {
	body, err := c.post(ctx, "/verify", in)
	if err != nil {
		return nil, err
	}

	result := gjson.ParseBytes(body)
	// Current facilitators answer {isValid, payer}; some provider generations
	// answer {verified, txHash}.
	valid := result.Get("isValid").Bool() || result.Get("verified").Bool()
	outcome := &VerifyOutcome{
		Valid:  valid,
		Payer:  result.Get("payer").String(),
		TxHash: firstString(result, "txHash", "transaction"),
		Reason: firstString(result, "invalidReason", "error"),
	}
	if !valid && outcome.Reason == "" {
		outcome.Reason = "facilitator reported the payment as invalid"
	}
	return outcome, nil
}

// Settle asks the facilitator to execute the payment on-chain via POST
// {base}/settle and returns the transaction hash.
func (c *FacilitatorClient) Settle(ctx context.Context, in BuildInput) (*SettleOutcome, error) {
	body, err := c.post(ctx, "/settle", in)
	if err != nil {
		return nil, err
	}

	result := gjson.ParseBytes(body)
	if result.Get("success").Exists() && !result.Get("success").Bool() {
		reason := firstString(result, "errorReason", "invalidReason", "error")
		return nil, NewError(CodeProviderError, fmt.Sprintf("facilitator settle failed: %s", reason), nil)
	}
	return &SettleOutcome{
		TxHash: firstString(result, "txHash", "transaction"),
		Payer:  result.Get("payer").String(),
	}, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, in BuildInput) ([]byte, error) {
	reqBody, err := BuildVerifyBody(c.dialect, in)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.joinURL(path), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(CodeProviderError, fmt.Sprintf("facilitator %s call failed", path), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := firstString(gjson.ParseBytes(body), "invalidReason", "error")
		if reason == "" {
			reason = strings.TrimSpace(string(body))
		}
		return nil, NewError(CodeProviderError,
			fmt.Sprintf("facilitator %s returned status %d: %s", path, resp.StatusCode, reason), nil)
	}
	return body, nil
}

func (c *FacilitatorClient) joinURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func firstString(result gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := result.Get(key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
