package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/rewards"
	"github.com/shopspring/decimal"
)

const testContract = "0x00000000000000000000000000000000000000c0"

type fakeBackend struct {
	mu           sync.Mutex
	nonce        uint64
	nonceLookups int
	sent         []*types.Transaction
	sendErr      error
	receipts     map[common.Hash]*types.Receipt
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonceLookups++
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, geth.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, geth.NotFound
	}
	return receipt, nil
}

func tipFor(wallet string, amount int64) events.Tip {
	tip := events.NewTip("session-1", decimal.NewFromInt(amount), "ETH", "alice")
	tip.WalletAddress = wallet
	return tip
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	client, err := NewClient(context.Background(), backend, Config{
		ContractAddress: testContract,
		PrivateKey:      "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestSubmitMintTransaction(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	client := newTestClient(t, backend)
	wallet := "0x00000000000000000000000000000000000000ab"
	timestamp := time.Unix(1_700_000_000, 0)

	txHash, err := client.SubmitMintTransaction(context.Background(), wallet, rewards.TierLegendary, timestamp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}

	tx := backend.sent[0]
	if tx.Hash().Hex() != txHash {
		t.Fatalf("expected hash %s, got %s", tx.Hash().Hex(), txHash)
	}
	if tx.Nonce() != 7 || *tx.To() != common.HexToAddress(testContract) {
		t.Fatalf("unexpected transaction nonce %d to %s", tx.Nonce(), tx.To())
	}

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	if err != nil || sender != client.From() {
		t.Fatalf("expected transaction signed by %s, got %s (%v)", client.From(), sender, err)
	}

	method := parsedABI.Methods[mintMethod]
	if string(tx.Data()[:4]) != string(method.ID) {
		t.Fatalf("expected mint selector")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("failed to decode call: %v", err)
	}
	if args[0].(common.Address) != common.HexToAddress(wallet) ||
		args[1].(uint8) != uint8(rewards.TierLegendary) ||
		args[2].(*big.Int).Int64() != timestamp.Unix() {
		t.Fatalf("unexpected mint arguments %v", args)
	}
}

func TestSubmitMintTransactionTracksNonces(t *testing.T) {
	backend := &fakeBackend{nonce: 3}
	client := newTestClient(t, backend)
	wallet := "0x00000000000000000000000000000000000000ab"

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.SubmitMintTransaction(context.Background(), wallet, rewards.TierCommon, time.Now()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range backend.sent {
		seen[tx.Nonce()] = true
	}
	for nonce := uint64(3); nonce < 8; nonce++ {
		if !seen[nonce] {
			t.Fatalf("expected nonce %d to be used once, got %v", nonce, seen)
		}
	}
	if backend.nonceLookups != 1 {
		t.Fatalf("expected a single nonce lookup, got %d", backend.nonceLookups)
	}
}

func TestSubmitMintTransactionErrors(t *testing.T) {
	backend := &fakeBackend{}
	client := newTestClient(t, backend)

	if _, err := client.SubmitMintTransaction(context.Background(), "not-a-wallet", rewards.TierRare, time.Now()); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("expected invalid wallet error, got %v", err)
	}

	backend.sendErr = errors.New("nonce too low")
	if _, err := client.SubmitMintTransaction(context.Background(), "0x00000000000000000000000000000000000000ab", rewards.TierRare, time.Now()); err == nil {
		t.Fatalf("expected send error")
	}
	if client.nextNonce != nil {
		t.Fatalf("expected nonce to be refetched after a rejected transaction")
	}
}

func TestTransactionReceipt(t *testing.T) {
	success := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		success:  {Status: types.ReceiptStatusSuccessful},
		reverted: {Status: types.ReceiptStatusFailed},
	}}
	client := newTestClient(t, backend)

	testCases := []struct {
		hash     common.Hash
		expected rewards.ReceiptStatus
	}{
		{hash: success, expected: rewards.ReceiptSuccess},
		{hash: reverted, expected: rewards.ReceiptReverted},
		{hash: common.HexToHash("0x03"), expected: rewards.ReceiptPending},
	}
	for _, testCase := range testCases {
		status, err := client.TransactionReceipt(context.Background(), testCase.hash.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != testCase.expected {
			t.Fatalf("expected %s for %s, got %s", testCase.expected, testCase.hash.Hex(), status)
		}
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(context.Background(), &fakeBackend{}, Config{ContractAddress: "nope"}); !errors.Is(err, ErrInvalidContract) {
		t.Fatalf("expected invalid contract error, got %v", err)
	}
	if _, err := NewClient(context.Background(), &fakeBackend{}, Config{ContractAddress: testContract, PrivateKey: "zz"}); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestPipelineWithEthereumClient(t *testing.T) {
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
	client := newTestClient(t, backend)

	pipeline := rewards.NewPipeline(client, rewards.WithPollInterval(5*time.Millisecond), rewards.WithMaxAttempts(400))
	defer pipeline.Close()

	var tx common.Hash
	task, created := pipeline.Process(context.Background(), tipFor("0x00000000000000000000000000000000000000ab", 60))
	if !created {
		t.Fatalf("expected task")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hash := task.TxHash(); hash != "" {
			tx = common.HexToHash(hash)
			break
		}
		time.Sleep(time.Millisecond)
	}
	backend.mu.Lock()
	backend.receipts[tx] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	backend.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if status, err := task.Wait(ctx); err != nil || status != rewards.StatusConfirmed {
		t.Fatalf("expected confirmed task, got %s (%v, %v)", status, err, task.Err())
	}
}
