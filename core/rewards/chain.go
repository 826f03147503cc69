package rewards

import (
	"context"
	"time"
)

type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// ChainClient submits mint transactions and looks up their receipts. It is
// shared by every task and must be safe for concurrent use.
type ChainClient interface {
	SubmitMintTransaction(ctx context.Context, walletAddress string, tier Tier, timestamp time.Time) (txHash string, err error)
	// TransactionReceipt reports ReceiptPending while the transaction is not
	// mined yet.
	TransactionReceipt(ctx context.Context, txHash string) (ReceiptStatus, error)
}
