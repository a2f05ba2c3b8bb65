package chain

import (
	"context"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/beatgate/beatgate/internal/payment"
	"github.com/beatgate/beatgate/pkg/logger"
)

// erc3009GasLimit covers transferWithAuthorization on the common USDC
// deployments with headroom.
const erc3009GasLimit = 120_000

// Broadcaster submits transferWithAuthorization transactions directly to an
// EVM node, paying gas from the configured sender key.
type Broadcaster struct {
	client   *Client
	key      *secp256k1.PrivateKey
	sender   string
	gasLimit uint64
	log      *logger.Logger
}

// BroadcasterConfig holds broadcaster configuration.
type BroadcasterConfig struct {
	Client   *Client
	Key      *secp256k1.PrivateKey
	GasLimit uint64
	Logger   *logger.Logger
}

// NewBroadcaster creates a broadcaster. The sender address is derived from
// the key.
func NewBroadcaster(cfg BroadcasterConfig) (*Broadcaster, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("rpc client required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("sender key required")
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = erc3009GasLimit
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("chain-broadcaster")
	}
	return &Broadcaster{
		client:   cfg.Client,
		key:      cfg.Key,
		sender:   payment.AddressOf(cfg.Key),
		gasLimit: gasLimit,
		log:      log,
	}, nil
}

// Broadcast implements payment.LocalBroadcaster. Malformed authorizations
// surface as VALIDATION_ERROR; node failures as PROVIDER_ERROR.
func (b *Broadcaster) Broadcast(ctx context.Context, ch payment.Challenge, auth payment.Authorization) (string, error) {
	data, err := TransferWithAuthorizationCalldata(auth)
	if err != nil {
		return "", payment.ValidationError("build calldata: %v", err)
	}
	token, err := payment.HexToAddress(ch.TokenAddress)
	if err != nil {
		return "", payment.ValidationError("challenge token address: %v", err)
	}

	nonce, err := b.client.PendingNonce(ctx, b.sender)
	if err != nil {
		return "", payment.NewError(payment.CodeProviderError, "fetch sender nonce", err)
	}
	gasPrice, err := b.client.GasPrice(ctx)
	if err != nil {
		return "", payment.NewError(payment.CodeProviderError, "fetch gas price", err)
	}

	rawTx, err := SignLegacyTx(LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      b.gasLimit,
		To:       token,
		Data:     data,
	}, ch.ChainID, b.key)
	if err != nil {
		return "", payment.NewError(payment.CodeProviderError, "sign transaction", err)
	}

	txHash, err := b.client.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return "", payment.NewError(payment.CodeProviderError, "broadcast transaction", err)
	}

	b.log.WithField("tx_hash", txHash).
		WithField("challenge_id", ch.ID).
		Info("broadcast transferWithAuthorization")
	return txHash, nil
}
