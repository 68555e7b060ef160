package chain

import (
	"context"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MockClient is the deterministic fallback responder used in development
// and tests when no ledger node is configured or reachable. It keeps the
// whole contract-operation surface working instead of failing every
// request, but every log line carries the [mock-chain] marker so a mock
// deployment is never mistaken for a real one.
type MockClient struct {
	mu          sync.Mutex
	escrows     map[common.Address]*RentalInfo
	nonce       uint64
	block       uint64
	unavailable bool
}

func NewMockClient() *MockClient {
	return &MockClient{
		escrows: make(map[common.Address]*RentalInfo),
		block:   1,
	}
}

func (m *MockClient) Connect() error {
	log.Println("⚠️  [mock-chain] no ledger node configured, using deterministic mock responder")
	return nil
}

func (m *MockClient) Close() error { return nil }

func (m *MockClient) Mock() bool { return true }

// SetUnavailable makes every subsequent call behave like an unreachable
// node. Used by tests exercising the reconciler's soft-failure path.
func (m *MockClient) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// SetStatusCode rewrites the stored escrow status, simulating a state
// change applied directly on chain.
func (m *MockClient) SetStatusCode(escrow common.Address, code uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.escrows[escrow]; ok {
		info.StatusCode = code
	}
}

func (m *MockClient) Deploy(ctx context.Context, p DeployParams) (*DeployReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, &Error{Op: "deploy", Reason: "mock node unavailable", Retryable: true}
	}

	m.nonce++
	m.block++

	// Address and hash derive from the deployment parameters and nonce,
	// so repeated runs against the mock are reproducible.
	seed := append(p.Tenant.Bytes(), p.Owner.Bytes()...)
	seed = append(seed, encodeUint64(p.ItemChainID)...)
	seed = append(seed, encodeUint64(m.nonce)...)
	addr := common.BytesToAddress(crypto.Keccak256(seed)[12:])
	txHash := common.BytesToHash(crypto.Keccak256(addr.Bytes(), []byte("deploy")))

	m.escrows[addr] = &RentalInfo{
		Tenant:     p.Tenant,
		Owner:      p.Owner,
		ItemID:     p.ItemChainID,
		Amount:     new(big.Int).Set(p.AmountWei),
		Duration:   p.DurationSecs,
		Deposit:    new(big.Int).Set(p.DepositWei),
		StartTime:  m.block,
		StatusCode: StatusCreated,
	}

	log.Printf("⚠️  [mock-chain] deployed escrow %s for item %d (tx %s)", addr.Hex(), p.ItemChainID, txHash.Hex())
	return &DeployReceipt{
		ContractAddress: addr,
		TxHash:          txHash,
		BlockNumber:     m.block,
		GasUsed:         210_000,
	}, nil
}

func (m *MockClient) PayDeposit(ctx context.Context, escrow common.Address, amountWei *big.Int) (*InvokeReceipt, error) {
	return m.transition(escrow, "payDeposit", StatusCreated, StatusActive)
}

func (m *MockClient) Complete(ctx context.Context, escrow common.Address) (*InvokeReceipt, error) {
	return m.transition(escrow, "completeRental", StatusActive, StatusCompleted)
}

func (m *MockClient) Cancel(ctx context.Context, escrow common.Address, reason string) (*InvokeReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, &Error{Op: "cancelRental", Reason: "mock node unavailable", Retryable: true}
	}
	info, ok := m.escrows[escrow]
	if !ok {
		return nil, &Error{Op: "cancelRental", Reason: "no escrow at address"}
	}
	if info.StatusCode == StatusCompleted || info.StatusCode == StatusCancelled {
		return nil, &Error{Op: "cancelRental", Reason: "escrow already settled"}
	}
	info.StatusCode = StatusCancelled
	return m.receipt(escrow, "cancel"), nil
}

func (m *MockClient) GetRentalInfo(ctx context.Context, escrow common.Address) ReadResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ReadResult{Status: ReadUnavailable, Reason: "mock node unavailable"}
	}
	info, ok := m.escrows[escrow]
	if !ok {
		return ReadResult{Status: ReadNoCode, Reason: "no contract code at address"}
	}
	copied := *info
	copied.Amount = new(big.Int).Set(info.Amount)
	copied.Deposit = new(big.Int).Set(info.Deposit)
	return ReadResult{Status: ReadOk, Info: &copied}
}

func (m *MockClient) transition(escrow common.Address, op string, from, to uint8) (*InvokeReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, &Error{Op: op, Reason: "mock node unavailable", Retryable: true}
	}
	info, ok := m.escrows[escrow]
	if !ok {
		return nil, &Error{Op: op, Reason: "no escrow at address"}
	}
	if info.StatusCode != from {
		return nil, &Error{Op: op, Reason: "escrow not in expected state"}
	}
	info.StatusCode = to
	return m.receipt(escrow, op), nil
}

func (m *MockClient) receipt(escrow common.Address, op string) *InvokeReceipt {
	m.block++
	return &InvokeReceipt{
		TxHash:      common.BytesToHash(crypto.Keccak256(escrow.Bytes(), []byte(op), encodeUint64(m.block))),
		BlockNumber: m.block,
		GasUsed:     60_000,
	}
}
