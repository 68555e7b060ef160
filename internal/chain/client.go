package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Escrow status codes as reported by getRentalInfo.
const (
	StatusCreated   uint8 = 0
	StatusActive    uint8 = 1
	StatusCompleted uint8 = 2
	StatusCancelled uint8 = 3
	StatusDisputed  uint8 = 4
)

// Config carries everything the client needs explicitly; nothing inside
// the package reads ambient globals.
type Config struct {
	RPCURL          string
	ChainID         int64
	FactoryAddress  string
	DeployerAddress string
	GasLimit        uint64
	Timeout         time.Duration
	MaxRetries      int
}

// ConfigFromEnv assembles a Config from the environment variables the
// deployment provides. An empty RPC URL means "no ledger node": callers
// fall back to the mock client.
func ConfigFromEnv() Config {
	cfg := Config{
		RPCURL:          os.Getenv("CHAIN_RPC_URL"),
		FactoryAddress:  os.Getenv("CHAIN_FACTORY_ADDRESS"),
		DeployerAddress: os.Getenv("CHAIN_DEPLOYER_ADDRESS"),
		GasLimit:        3_000_000,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ChainID = id
		}
	}
	if v := os.Getenv("CHAIN_RPC_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

// DeployParams binds a new escrow to the rental relationship.
type DeployParams struct {
	Tenant       common.Address
	Owner        common.Address
	ItemChainID  uint64
	AmountWei    *big.Int
	DepositWei   *big.Int
	DurationSecs uint64
}

// DeployReceipt is returned by a confirmed escrow deployment.
type DeployReceipt struct {
	ContractAddress common.Address
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
}

// InvokeReceipt is returned by a confirmed state-changing call against a
// deployed escrow.
type InvokeReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// RentalInfo mirrors the escrow struct returned by getRentalInfo.
type RentalInfo struct {
	Tenant     common.Address
	Owner      common.Address
	ItemID     uint64
	Amount     *big.Int
	Duration   uint64
	Deposit    *big.Int
	StartTime  uint64
	StatusCode uint8
}

// ReadStatus tags the outcome of a chain read so callers can tell
// "node unreachable, retry later" from "call reverted, do not retry".
type ReadStatus int

const (
	ReadOk ReadStatus = iota
	ReadUnavailable
	ReadNoCode
	ReadFailed
)

// ReadResult is the tagged result of GetRentalInfo. Info is non-nil only
// when Status is ReadOk.
type ReadResult struct {
	Status ReadStatus
	Info   *RentalInfo
	Reason string
}

// Error is a typed ledger failure. Retryable failures are transport
// level (node unreachable, timeout); non-retryable ones are rejected or
// reverted transactions.
type Error struct {
	Op        string
	Reason    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("chain %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Client is the ledger boundary. It is constructed once and passed into
// the services that need it; connect/close bound its lifecycle.
type Client interface {
	Connect() error
	Close() error

	// Mock reports whether this client is the deterministic fallback
	// responder rather than a real node. Surfaced in logs and in the
	// blockchain-status endpoint so a mock deployment can never be
	// mistaken for a real one.
	Mock() bool

	Deploy(ctx context.Context, p DeployParams) (*DeployReceipt, error)
	PayDeposit(ctx context.Context, escrow common.Address, amountWei *big.Int) (*InvokeReceipt, error)
	Complete(ctx context.Context, escrow common.Address) (*InvokeReceipt, error)
	Cancel(ctx context.Context, escrow common.Address, reason string) (*InvokeReceipt, error)
	GetRentalInfo(ctx context.Context, escrow common.Address) ReadResult
}

// NewClient returns the RPC client when a ledger node is configured and
// reachable, and degrades to the deterministic mock responder otherwise.
// The fallback is a conscious development mode, announced loudly, never
// a silent substitution.
func NewClient(cfg Config) Client {
	if cfg.RPCURL == "" {
		mock := NewMockClient()
		_ = mock.Connect()
		return mock
	}
	rpc := NewRPCClient(cfg)
	if err := rpc.Connect(); err != nil {
		log.Printf("⚠️  [mock-chain] ledger node %s unreachable (%v), falling back to mock responder", cfg.RPCURL, err)
		mock := NewMockClient()
		_ = mock.Connect()
		return mock
	}
	return rpc
}

// WeiPerEth is the fixed conversion between the marketplace currency
// unit and the ledger's smallest denomination.
var WeiPerEth = new(big.Float).SetFloat64(1e18)

// EthToWei converts a marketplace amount to wei, truncating below 1 wei.
func EthToWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(new(big.Float).SetFloat64(amount), WeiPerEth).Int(nil)
	return wei
}

// WeiToEth converts a wei amount back to the marketplace unit.
func WeiToEth(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), WeiPerEth).Float64()
	return f
}
