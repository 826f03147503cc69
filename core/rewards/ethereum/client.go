// Package ethereum implements the reward chain client on top of an
// Ethereum JSON-RPC endpoint.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/koscakluka/ema-live/core/rewards"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrInvalidWallet   = errors.New("invalid wallet address")
	ErrInvalidContract = errors.New("invalid contract address")
)

// Backend is the subset of ethclient.Client the chain client needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call geth.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	RPCURL          string
	ContractAddress string
	// PrivateKey is the hex encoded key of the minting account, with or
	// without the 0x prefix.
	PrivateKey string
	// ChainID is queried from the node when zero.
	ChainID int64
	// DialAttempts bounds the connection attempts made by Dial.
	DialAttempts uint64
}

// Client signs and submits mint transactions from a single account. Nonces
// are assigned under a lock so concurrent tasks never reuse one.
type Client struct {
	backend  Backend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer

	nonceMu   sync.Mutex
	nextNonce *uint64
}

var _ rewards.ChainClient = (*Client)(nil)

// Dial connects to the configured RPC endpoint, retrying with an exponential
// backoff.
func Dial(ctx context.Context, config Config) (*Client, *ethclient.Client, error) {
	attempts := config.DialAttempts
	if attempts == 0 {
		attempts = 3
	}

	var rpc *ethclient.Client
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		client, err := ethclient.DialContext(ctx, config.RPCURL)
		if err != nil {
			logger.WarnContext(ctx, "failed to dial chain rpc", "error", err)
			return retry.RetryableError(err)
		}
		if _, err := client.ChainID(ctx); err != nil {
			client.Close()
			logger.WarnContext(ctx, "chain rpc not ready", "error", err)
			return retry.RetryableError(err)
		}
		rpc = client
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to chain rpc: %w", err)
	}

	client, err := NewClient(ctx, rpc, config)
	if err != nil {
		rpc.Close()
		return nil, nil, err
	}
	return client, rpc, nil
}

func NewClient(ctx context.Context, backend Backend, config Config) (*Client, error) {
	if !common.IsHexAddress(config.ContractAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContract, config.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(config.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid minting key: %w", err)
	}

	chainID := big.NewInt(config.ChainID)
	if config.ChainID == 0 {
		if chainID, err = backend.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("failed to query chain id: %w", err)
		}
	}

	return &Client{
		backend:  backend,
		contract: common.HexToAddress(config.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(chainID),
	}, nil
}

// From is the minting account.
func (c *Client) From() common.Address { return c.from }

func (c *Client) SubmitMintTransaction(ctx context.Context, walletAddress string, tier rewards.Tier, timestamp time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "submit mint transaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("reward.wallet", walletAddress),
		attribute.String("reward.tier", tier.String()),
	)

	txHash, err := c.submit(ctx, walletAddress, tier, timestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("reward.tx", txHash))
	return txHash, nil
}

func (c *Client) submit(ctx context.Context, walletAddress string, tier rewards.Tier, timestamp time.Time) (string, error) {
	if !common.IsHexAddress(walletAddress) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWallet, walletAddress)
	}

	data, err := parsedABI.Pack(mintMethod, common.HexToAddress(walletAddress), uint8(tier), big.NewInt(timestamp.Unix()))
	if err != nil {
		return "", fmt.Errorf("failed to encode mint call: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, geth.CallMsg{From: c.from, To: &c.contract, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.nonce(ctx)
	if err != nil {
		return "", err
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}), c.signer, c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign mint transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		// The node may know better after a rejected transaction.
		c.nextNonce = nil
		return "", fmt.Errorf("failed to send mint transaction: %w", err)
	}
	nonce++
	c.nextNonce = &nonce

	return tx.Hash().Hex(), nil
}

// nonce must be called with nonceMu held.
func (c *Client) nonce(ctx context.Context) (uint64, error) {
	if c.nextNonce != nil {
		return *c.nextNonce, nil
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	return nonce, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (rewards.ReceiptStatus, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, geth.NotFound) {
		return rewards.ReceiptPending, nil
	} else if err != nil {
		return rewards.ReceiptPending, err
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return rewards.ReceiptSuccess, nil
	}
	return rewards.ReceiptReverted, nil
}
