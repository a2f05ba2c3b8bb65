package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beatgate/beatgate/internal/payment"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestRLPBytes(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{nil, "80"},
		{[]byte{0x00}, "00"},
		{[]byte{0x7f}, "7f"},
		{[]byte{0x80}, "8180"},
		{[]byte("dog"), "83646f67"},
		{bytes.Repeat([]byte{0xaa}, 56), "b838" + strings.Repeat("aa", 56)},
	}
	for _, c := range cases {
		if got := hex.EncodeToString(rlpBytes(c.in)); got != c.want {
			t.Fatalf("rlpBytes(%x) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestRLPUint(t *testing.T) {
	if got := hex.EncodeToString(rlpUint(big.NewInt(0))); got != "80" {
		t.Fatalf("zero = %s", got)
	}
	if got := hex.EncodeToString(rlpUint(big.NewInt(15))); got != "0f" {
		t.Fatalf("15 = %s", got)
	}
	if got := hex.EncodeToString(rlpUint64(1024)); got != "820400" {
		t.Fatalf("1024 = %s", got)
	}
}

func TestRLPList(t *testing.T) {
	// ["cat","dog"] is the canonical RLP example.
	got := hex.EncodeToString(rlpList(rlpBytes([]byte("cat")), rlpBytes([]byte("dog"))))
	if got != "c88363617483646f67" {
		t.Fatalf("list = %s", got)
	}
	if got := hex.EncodeToString(rlpList()); got != "c0" {
		t.Fatalf("empty list = %s", got)
	}
}

func TestTransferWithAuthorizationCalldata(t *testing.T) {
	auth := payment.Authorization{
		From:        "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		To:          "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Value:       "150000",
		ValidAfter:  "0",
		ValidBefore: "1750000000",
		Nonce:       "0x" + strings.Repeat("11", 32),
		Signature:   "0x" + strings.Repeat("22", 64) + "1b",
	}

	data, err := TransferWithAuthorizationCalldata(auth)
	if err != nil {
		t.Fatalf("calldata: %v", err)
	}
	if len(data) != 4+9*32 {
		t.Fatalf("calldata length = %d, want %d", len(data), 4+9*32)
	}
	if !bytes.Equal(data[:4], transferWithAuthorizationSelector) {
		t.Fatalf("selector mismatch")
	}
	// from is left-padded into the first word.
	word := data[4:36]
	if !bytes.Equal(word[:12], make([]byte, 12)) {
		t.Fatalf("address word not left padded: %x", word)
	}
	if hex.EncodeToString(word[12:]) != strings.Repeat("aa", 20) {
		t.Fatalf("from word = %x", word)
	}
	// v=27 lands in the seventh argument word.
	vWord := data[4+6*32 : 4+7*32]
	if vWord[31] != 27 {
		t.Fatalf("v = %d", vWord[31])
	}
	// r then s close out the call.
	if hex.EncodeToString(data[4+7*32:4+8*32]) != strings.Repeat("22", 32) {
		t.Fatalf("r mismatch")
	}
}

func TestTransferWithAuthorizationCalldataRejects(t *testing.T) {
	good := payment.Authorization{
		From:        "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		To:          "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Value:       "150000",
		ValidAfter:  "0",
		ValidBefore: "1750000000",
		Nonce:       "0x" + strings.Repeat("11", 32),
		Signature:   "0x" + strings.Repeat("22", 64) + "1b",
	}

	bad := good
	bad.Signature = "0x1234"
	if _, err := TransferWithAuthorizationCalldata(bad); err == nil {
		t.Fatalf("expected error for short signature")
	}

	bad = good
	bad.Value = "abc"
	if _, err := TransferWithAuthorizationCalldata(bad); err == nil {
		t.Fatalf("expected error for non-decimal value")
	}

	bad = good
	bad.From = "0x1234"
	if _, err := TransferWithAuthorizationCalldata(bad); err == nil {
		t.Fatalf("expected error for short address")
	}
}

func TestSignLegacyTxShape(t *testing.T) {
	key, err := payment.ParsePrivateKey(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	var to [20]byte
	copy(to[:], bytes.Repeat([]byte{0xbb}, 20))

	raw, err := SignLegacyTx(LegacyTx{
		Nonce:    7,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      120_000,
		To:       to,
		Value:    nil,
		Data:     []byte{0x01, 0x02},
	}, 8453, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(raw, "0x") {
		t.Fatalf("raw tx must be 0x prefixed")
	}
	decoded, err := hex.DecodeString(raw[2:])
	if err != nil {
		t.Fatalf("raw tx must be hex: %v", err)
	}
	// Short list header for a tx this small.
	if decoded[0] < 0xc0 {
		t.Fatalf("raw tx must be an RLP list, head byte %#x", decoded[0])
	}

	// Signing is deterministic for a fixed key and payload (RFC 6979).
	again, _ := SignLegacyTx(LegacyTx{
		Nonce:    7,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      120_000,
		To:       to,
		Data:     []byte{0x01, 0x02},
	}, 8453, key)
	if raw != again {
		t.Fatalf("legacy tx signing must be deterministic")
	}
}

func TestSignLegacyTxRejectsBadChain(t *testing.T) {
	key, _ := payment.ParsePrivateKey(testKeyHex)
	if _, err := SignLegacyTx(LegacyTx{}, 0, key); err == nil {
		t.Fatalf("expected error for zero chain id")
	}
	if _, err := SignLegacyTx(LegacyTx{}, 8453, nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func newRPCServer(t *testing.T, handler func(method string, params []interface{}) (interface{}, *RPCError)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{RPCURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientQuantities(t *testing.T) {
	client := newRPCServer(t, func(method string, params []interface{}) (interface{}, *RPCError) {
		switch method {
		case "eth_chainId":
			return "0x2105", nil
		case "eth_gasPrice":
			return "0x3b9aca00", nil
		case "eth_getTransactionCount":
			if len(params) != 2 || params[1] != "pending" {
				t.Errorf("unexpected params %v", params)
			}
			return "0x7", nil
		default:
			return nil, &RPCError{Code: -32601, Message: "method not found"}
		}
	})

	ctx := context.Background()
	chainID, err := client.ChainID(ctx)
	if err != nil || chainID.Int64() != 8453 {
		t.Fatalf("chainId = %v, %v", chainID, err)
	}
	gasPrice, err := client.GasPrice(ctx)
	if err != nil || gasPrice.Int64() != 1_000_000_000 {
		t.Fatalf("gasPrice = %v, %v", gasPrice, err)
	}
	nonce, err := client.PendingNonce(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err != nil || nonce != 7 {
		t.Fatalf("nonce = %d, %v", nonce, err)
	}
}

func TestClientRPCError(t *testing.T) {
	client := newRPCServer(t, func(method string, params []interface{}) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "nonce too low"}
	})
	_, err := client.SendRawTransaction(context.Background(), "0xdead")
	if err == nil || !strings.Contains(err.Error(), "nonce too low") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestBroadcaster(t *testing.T) {
	client := newRPCServer(t, func(method string, params []interface{}) (interface{}, *RPCError) {
		switch method {
		case "eth_getTransactionCount":
			return "0x0", nil
		case "eth_gasPrice":
			return "0x3b9aca00", nil
		case "eth_sendRawTransaction":
			raw, _ := params[0].(string)
			if !strings.HasPrefix(raw, "0x") {
				t.Errorf("raw tx = %q", raw)
			}
			return "0x" + strings.Repeat("cd", 32), nil
		default:
			return nil, &RPCError{Code: -32601, Message: "method not found"}
		}
	})

	key, _ := payment.ParsePrivateKey(testKeyHex)
	b, err := NewBroadcaster(BroadcasterConfig{Client: client, Key: key})
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}

	ch := payment.Challenge{
		ID:           "7f9c2ba4-e88f-4e55-a71a-8d2f4f0b1a23",
		TokenAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		ChainID:      8453,
	}
	auth := payment.Authorization{
		From:        "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		To:          "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Value:       "150000",
		ValidAfter:  "0",
		ValidBefore: "1750000000",
		Nonce:       "0x" + strings.Repeat("11", 32),
		Signature:   "0x" + strings.Repeat("22", 64) + "1b",
	}

	txHash, err := b.Broadcast(context.Background(), ch, auth)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if txHash != "0x"+strings.Repeat("cd", 32) {
		t.Fatalf("txHash = %s", txHash)
	}
}

func TestBroadcasterValidation(t *testing.T) {
	client := newRPCServer(t, func(method string, params []interface{}) (interface{}, *RPCError) {
		t.Errorf("no rpc call expected for malformed input, got %s", method)
		return nil, nil
	})
	key, _ := payment.ParsePrivateKey(testKeyHex)
	b, _ := NewBroadcaster(BroadcasterConfig{Client: client, Key: key})

	_, err := b.Broadcast(context.Background(), payment.Challenge{TokenAddress: "0x1"}, payment.Authorization{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if payment.ErrorCode(err) != payment.CodeValidationError {
		t.Fatalf("code = %s", payment.ErrorCode(err))
	}
}
