// Package chain provides EVM blockchain interaction for local settlement.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client provides EVM JSON-RPC client functionality.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	nextID     uint64
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates a new EVM RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes an RPC call to the EVM node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      atomic.AddUint64(&c.nextID, 1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	return rpcResp.Result, nil
}

func (c *Client) quantity(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var hexValue string
	if err := json.Unmarshal(result, &hexValue); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	value, ok := new(big.Int).SetString(strings.TrimPrefix(hexValue, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("%s returned non-quantity %q", method, hexValue)
	}
	return value, nil
}

// ChainID returns the chain identifier reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.quantity(ctx, "eth_chainId")
}

// GasPrice returns the current gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.quantity(ctx, "eth_gasPrice")
}

// PendingNonce returns the pending transaction count for an address.
func (c *Client) PendingNonce(ctx context.Context, address string) (uint64, error) {
	count, err := c.quantity(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

// SendRawTransaction submits a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTx})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("decode eth_sendRawTransaction result: %w", err)
	}
	return txHash, nil
}
