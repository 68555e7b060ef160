package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Method selectors and the deployment event topic, fixed by the escrow
// factory ABI.
var (
	selCreateRental = selector("createRentalContract(address,uint256,uint256,uint256)")
	selPayDeposit   = selector("payDeposit()")
	selComplete     = selector("completeRental()")
	selCancel       = selector("cancelRental(string)")
	selRentalInfo   = selector("getRentalInfo()")

	topicRentalCreated = common.BytesToHash(
		crypto.Keccak256([]byte("RentalContractCreated(address,address,address,uint256)")))
)

// RPCClient talks to an Ethereum-compatible node over JSON-RPC. All calls
// are time-bounded by cfg.Timeout and transport failures are retried at
// most cfg.MaxRetries times before surfacing a retryable *Error.
type RPCClient struct {
	cfg       Config
	http      *http.Client
	reqID     atomic.Int64
	connected bool
}

func NewRPCClient(cfg Config) *RPCClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 3_000_000
	}
	return &RPCClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Connect verifies the node is reachable and, when a chain id is
// configured, that we are talking to the right network.
func (c *RPCClient) Connect() error {
	raw, err := c.call(context.Background(), "net_version")
	if err != nil {
		return err
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return &Error{Op: "connect", Reason: "malformed net_version response", Err: err}
	}
	if c.cfg.ChainID != 0 && version != fmt.Sprintf("%d", c.cfg.ChainID) {
		return &Error{Op: "connect", Reason: fmt.Sprintf("chain id mismatch: node reports %s, configured %d", version, c.cfg.ChainID)}
	}
	c.connected = true
	log.Printf("⛓️  Connected to ledger node %s (chain id %s)", c.cfg.RPCURL, version)
	return nil
}

func (c *RPCClient) Close() error {
	c.http.CloseIdleConnections()
	c.connected = false
	return nil
}

func (c *RPCClient) Mock() bool { return false }

// Deploy submits the funding transaction that instantiates an escrow
// bound to the rental, then waits for its receipt.
func (c *RPCClient) Deploy(ctx context.Context, p DeployParams) (*DeployReceipt, error) {
	data := append([]byte{}, selCreateRental...)
	data = append(data, encodeAddress(p.Tenant)...)
	data = append(data, encodeUint64(p.ItemChainID)...)
	data = append(data, encodeUint64(p.DurationSecs)...)
	data = append(data, encodeBig(p.DepositWei)...)

	value := new(big.Int).Add(p.AmountWei, p.DepositWei)
	receipt, err := c.sendAndWait(ctx, "deploy", c.cfg.FactoryAddress, data, value)
	if err != nil {
		return nil, err
	}

	escrow, err := escrowAddressFromReceipt(receipt)
	if err != nil {
		return nil, &Error{Op: "deploy", Reason: "transaction confirmed but no RentalContractCreated event found", Err: err}
	}
	return &DeployReceipt{
		ContractAddress: escrow,
		TxHash:          receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
	}, nil
}

func (c *RPCClient) PayDeposit(ctx context.Context, escrow common.Address, amountWei *big.Int) (*InvokeReceipt, error) {
	return c.invoke(ctx, "payDeposit", escrow, selPayDeposit, amountWei)
}

func (c *RPCClient) Complete(ctx context.Context, escrow common.Address) (*InvokeReceipt, error) {
	return c.invoke(ctx, "completeRental", escrow, selComplete, nil)
}

func (c *RPCClient) Cancel(ctx context.Context, escrow common.Address, reason string) (*InvokeReceipt, error) {
	data := append([]byte{}, selCancel...)
	data = append(data, encodeString(reason)...)
	return c.invoke(ctx, "cancelRental", escrow, data, nil)
}

func (c *RPCClient) invoke(ctx context.Context, op string, escrow common.Address, data []byte, value *big.Int) (*InvokeReceipt, error) {
	receipt, err := c.sendAndWait(ctx, op, escrow.Hex(), data, value)
	if err != nil {
		return nil, err
	}
	return &InvokeReceipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}, nil
}

// GetRentalInfo reads the escrow struct. The result is tagged rather
// than collapsed into a single error so the reconciler can leave the
// database untouched on a transient outage.
func (c *RPCClient) GetRentalInfo(ctx context.Context, escrow common.Address) ReadResult {
	code, err := c.call(ctx, "eth_getCode", escrow.Hex(), "latest")
	if err != nil {
		return readFromError("eth_getCode", err)
	}
	var codeHex string
	if json.Unmarshal(code, &codeHex) == nil && (codeHex == "" || codeHex == "0x") {
		return ReadResult{Status: ReadNoCode, Reason: "no contract code at address"}
	}

	callObj := map[string]string{
		"to":   escrow.Hex(),
		"data": hexutil.Encode(selRentalInfo),
	}
	raw, err := c.call(ctx, "eth_call", callObj, "latest")
	if err != nil {
		return readFromError("eth_call", err)
	}
	var resultHex string
	if err := json.Unmarshal(raw, &resultHex); err != nil {
		return ReadResult{Status: ReadFailed, Reason: "malformed eth_call response"}
	}
	info, err := decodeRentalInfo(common.FromHex(resultHex))
	if err != nil {
		return ReadResult{Status: ReadFailed, Reason: err.Error()}
	}
	return ReadResult{Status: ReadOk, Info: info}
}

func readFromError(op string, err error) ReadResult {
	var ce *Error
	if errors.As(err, &ce) && !ce.Retryable {
		return ReadResult{Status: ReadFailed, Reason: ce.Reason}
	}
	return ReadResult{Status: ReadUnavailable, Reason: fmt.Sprintf("%s: %v", op, err)}
}

// --- transaction submission ---

type txReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Logs        []receiptLog
}

type receiptLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// sendAndWait submits a transaction via the node's managed account and
// polls for its receipt until cfg.Timeout elapses. A context cancel or
// timeout surfaces as a retryable error and nothing is persisted by the
// caller, so the database state stays untouched.
func (c *RPCClient) sendAndWait(ctx context.Context, op, to string, data []byte, value *big.Int) (*txReceipt, error) {
	tx := map[string]string{
		"from": c.cfg.DeployerAddress,
		"to":   to,
		"data": hexutil.Encode(data),
		"gas":  hexutil.EncodeUint64(c.cfg.GasLimit),
	}
	if value != nil && value.Sign() > 0 {
		tx["value"] = hexutil.EncodeBig(value)
	}

	raw, err := c.call(ctx, "eth_sendTransaction", tx)
	if err != nil {
		return nil, wrapOp(op, err)
	}
	var hashHex string
	if err := json.Unmarshal(raw, &hashHex); err != nil {
		return nil, &Error{Op: op, Reason: "malformed transaction hash", Err: err}
	}
	txHash := common.HexToHash(hashHex)

	deadline := time.Now().Add(c.cfg.Timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, &Error{Op: op, Reason: "cancelled while waiting for receipt", Retryable: true, Err: ctx.Err()}
		case <-time.After(500 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return nil, &Error{Op: op, Reason: fmt.Sprintf("transaction %s not confirmed within %s", txHash.Hex(), c.cfg.Timeout), Retryable: true}
		}

		receipt, err := c.fetchReceipt(ctx, txHash)
		if err != nil {
			return nil, wrapOp(op, err)
		}
		if receipt == nil {
			continue // still pending
		}
		return receipt, nil
	}
}

func (c *RPCClient) fetchReceipt(ctx context.Context, txHash common.Hash) (*txReceipt, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", txHash.Hex())
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}

	var body struct {
		Status      string `json:"status"`
		BlockNumber string `json:"blockNumber"`
		GasUsed     string `json:"gasUsed"`
		Logs        []struct {
			Address string   `json:"address"`
			Topics  []string `json:"topics"`
			Data    string   `json:"data"`
		} `json:"logs"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &Error{Op: "receipt", Reason: "malformed receipt", Err: err}
	}
	if body.Status == "0x0" {
		return nil, &Error{Op: "receipt", Reason: fmt.Sprintf("transaction %s reverted", txHash.Hex())}
	}

	receipt := &txReceipt{TxHash: txHash}
	if body.BlockNumber != "" {
		receipt.BlockNumber, _ = hexutil.DecodeUint64(body.BlockNumber)
	}
	if body.GasUsed != "" {
		receipt.GasUsed, _ = hexutil.DecodeUint64(body.GasUsed)
	}
	for _, l := range body.Logs {
		entry := receiptLog{
			Address: common.HexToAddress(l.Address),
			Data:    common.FromHex(l.Data),
		}
		for _, t := range l.Topics {
			entry.Topics = append(entry.Topics, common.HexToHash(t))
		}
		receipt.Logs = append(receipt.Logs, entry)
	}
	return receipt, nil
}

func escrowAddressFromReceipt(r *txReceipt) (common.Address, error) {
	for _, l := range r.Logs {
		if len(l.Topics) >= 2 && l.Topics[0] == topicRentalCreated {
			return common.BytesToAddress(l.Topics[1].Bytes()[12:]), nil
		}
	}
	return common.Address{}, fmt.Errorf("event topic %s not present in %d logs", topicRentalCreated.Hex(), len(r.Logs))
}

// --- JSON-RPC plumbing ---

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one JSON-RPC request with bounded retry. Transport
// failures are retried; node-reported errors are not.
func (c *RPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, &Error{Op: method, Reason: "encode request", Err: err}
	}

	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Op: method, Reason: "cancelled", Retryable: true, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(payload))
		if err != nil {
			return nil, &Error{Op: method, Reason: "build request", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("node returned HTTP %d", resp.StatusCode)
			continue
		}

		var parsed rpcResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &Error{Op: method, Reason: "malformed response", Err: err}
		}
		if parsed.Error != nil {
			// Node-level rejection: reverted call, bad params. Not retryable.
			return nil, &Error{Op: method, Reason: fmt.Sprintf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)}
		}
		return parsed.Result, nil
	}
	return nil, &Error{Op: method, Reason: "node unreachable", Retryable: true, Err: lastErr}
}

func wrapOp(op string, err error) error {
	if ce, ok := err.(*Error); ok {
		return &Error{Op: op, Reason: ce.Reason, Retryable: ce.Retryable, Err: ce.Err}
	}
	return &Error{Op: op, Reason: err.Error(), Err: err}
}

// --- ABI encoding ---

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func encodeAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func encodeUint64(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func encodeBig(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

// encodeString packs a single dynamic string argument: head offset,
// length word, then right-padded UTF-8 bytes.
func encodeString(s string) []byte {
	raw := []byte(s)
	padded := common.RightPadBytes(raw, (len(raw)+31)/32*32)
	out := make([]byte, 0, 64+len(padded))
	out = append(out, encodeUint64(32)...)
	out = append(out, encodeUint64(uint64(len(raw)))...)
	return append(out, padded...)
}

func decodeRentalInfo(data []byte) (*RentalInfo, error) {
	const words = 8
	if len(data) < words*32 {
		return nil, fmt.Errorf("short getRentalInfo payload: %d bytes", len(data))
	}
	word := func(i int) []byte { return data[i*32 : (i+1)*32] }

	info := &RentalInfo{
		Tenant:    common.BytesToAddress(word(0)[12:]),
		Owner:     common.BytesToAddress(word(1)[12:]),
		ItemID:    new(big.Int).SetBytes(word(2)).Uint64(),
		Amount:    new(big.Int).SetBytes(word(3)),
		Duration:  new(big.Int).SetBytes(word(4)).Uint64(),
		Deposit:   new(big.Int).SetBytes(word(5)),
		StartTime: new(big.Int).SetBytes(word(6)).Uint64(),
	}
	code := new(big.Int).SetBytes(word(7))
	if !code.IsUint64() || code.Uint64() > uint64(StatusDisputed) {
		return nil, fmt.Errorf("escrow reports unknown status code %s", code.String())
	}
	info.StatusCode = uint8(code.Uint64())
	return info, nil
}
