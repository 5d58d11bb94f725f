// Package ledger executes on-chain settlement: it signs and submits payment
// transactions through the ETH fee-proxy contract and waits for confirmation.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentPay-Chain/pkg/logger"
)

// proxyContractABI is the payment-forwarding contract interface: a payable
// transfer tagged with an indexed payment reference and an optional fee.
const proxyContractABI = `[{"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":true,"internalType":"bytes","name":"paymentReference","type":"bytes"},{"indexed":false,"internalType":"uint256","name":"feeAmount","type":"uint256"},{"indexed":false,"internalType":"address","name":"feeAddress","type":"address"}],"name":"TransferWithReferenceAndFee","type":"event"},{"inputs":[{"internalType":"address payable","name":"_to","type":"address"},{"internalType":"uint256","name":"_amount","type":"uint256"},{"internalType":"bytes","name":"_paymentReference","type":"bytes"},{"internalType":"uint256","name":"_feeAmount","type":"uint256"},{"internalType":"address payable","name":"_feeAddress","type":"address"}],"name":"transferExactEthWithReferenceAndFee","outputs":[],"stateMutability":"payable","type":"function"},{"inputs":[{"internalType":"address payable","name":"_to","type":"address"},{"internalType":"bytes","name":"_paymentReference","type":"bytes"},{"internalType":"uint256","name":"_feeAmount","type":"uint256"},{"internalType":"address payable","name":"_feeAddress","type":"address"}],"name":"transferWithReferenceAndFee","outputs":[],"stateMutability":"payable","type":"function"},{"stateMutability":"payable","type":"receive"}]`

// 这些文本会原样返回给决策引擎，措辞保持与既有集成一致。
const (
	msgMissingRecipient = "Error , a valid recipient_address should be provided."
	msgMissingReference = "Error , a valid paymentReference should be provided."
	msgConfirmed        = "transaction is confirmed"
	msgFailed           = "error during the transaction execution or timeout in waiting for completion"
)

// PaymentTransaction 记录一次链上支付的结果，确认后不可变。
type PaymentTransaction struct {
	RecipientAddress string  `json:"recipient_address"`
	Amount           float64 `json:"amount"`
	PaymentReference string  `json:"payment_reference"`
	TxHash           string  `json:"tx_hash"`
	Confirmed        bool    `json:"confirmed"`
}

// Backend mirrors the subset of chain access the client needs, satisfied by
// both ethclient.Client and the go-ethereum simulated backend.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client submits payments through the fee-proxy contract from a single
// agent-owned wallet.
type Client struct {
	backend     Backend
	wallet      *WalletSession
	proxy       common.Address
	feeAddress  common.Address
	decimals    int
	contractABI abi.ABI
	confirmWait time.Duration
	rpcClient   *gethrpc.Client
}

// Option 定义可选的客户端配置。
type Option func(*Client)

// WithConfirmWait 设置等待交易回执的最长时间。
func WithConfirmWait(wait time.Duration) Option {
	return func(c *Client) {
		if wait > 0 {
			c.confirmWait = wait
		}
	}
}

const defaultConfirmWait = 90 * time.Second

// NewClient dials the configured RPC endpoint and returns a settlement
// client bound to the given wallet session.
func NewClient(ctx context.Context, def CurrencyDefinition, wallet *WalletSession, opts ...Option) (*Client, error) {
	rpcURL := strings.TrimSpace(def.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	client, err := newClient(ethclient.NewClient(rpcClient), def, wallet, opts...)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewClientWithBackend wraps an existing chain backend, used with the
// go-ethereum simulated backend in tests.
func NewClientWithBackend(backend Backend, def CurrencyDefinition, wallet *WalletSession, opts ...Option) (*Client, error) {
	return newClient(backend, def, wallet, opts...)
}

func newClient(backend Backend, def CurrencyDefinition, wallet *WalletSession, opts ...Option) (*Client, error) {
	if wallet == nil {
		return nil, errors.New("未提供钱包会话")
	}
	if !common.IsHexAddress(def.ProxyAddress) {
		return nil, fmt.Errorf("非法的合约地址: %s", def.ProxyAddress)
	}
	if !common.IsHexAddress(def.FeeAddress) {
		return nil, fmt.Errorf("非法的手续费地址: %s", def.FeeAddress)
	}
	parsedABI, err := abi.JSON(strings.NewReader(proxyContractABI))
	if err != nil {
		return nil, fmt.Errorf("解析合约 ABI 失败: %w", err)
	}
	decimals := def.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	c := &Client{
		backend:     backend,
		wallet:      wallet,
		proxy:       common.HexToAddress(def.ProxyAddress),
		feeAddress:  common.HexToAddress(def.FeeAddress),
		decimals:    decimals,
		contractABI: parsedABI,
		confirmWait: defaultConfirmWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Wallet 返回客户端绑定的钱包会话。
func (c *Client) Wallet() *WalletSession {
	return c.wallet
}

// Close releases the RPC connection if the client owns one.
func (c *Client) Close() {
	if c != nil && c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// PerformPayment 执行一笔带支付引用的链上转账并等待确认。
//
// 返回的文本面向决策引擎；本函数从不自动重试，回执超时按失败上报，
// 即使交易之后仍可能在链上落账（调用方不应盲目重发）。
func (c *Client) PerformPayment(ctx context.Context, recipientAddress string, amount float64, paymentReference string) (string, *PaymentTransaction) {
	if strings.TrimSpace(recipientAddress) == "" || !common.IsHexAddress(recipientAddress) {
		return msgMissingRecipient, nil
	}
	refBytes, err := decodeReference(paymentReference)
	if err != nil {
		return msgMissingReference, nil
	}

	tx := &PaymentTransaction{
		RecipientAddress: recipientAddress,
		Amount:           amount,
		PaymentReference: paymentReference,
	}

	value := c.toMinorUnits(amount)
	callData, err := c.contractABI.Pack("transferWithReferenceAndFee",
		common.HexToAddress(recipientAddress),
		refBytes,
		big.NewInt(0),
		c.feeAddress,
	)
	if err != nil {
		logger.L().Error("编码支付调用失败", slog.Any("error", err))
		return msgFailed, tx
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		logger.L().Warn("查询 gas 价格失败", slog.Any("error", err))
		return msgFailed, tx
	}
	gasLimit, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:     c.wallet.Address(),
		To:       &c.proxy,
		Value:    value,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		logger.L().Warn("估算 gas 失败", slog.Any("error", err))
		return msgFailed, tx
	}

	signed, err := c.wallet.SignAndSubmit(ctx, c.backend, c.backend, func(nonce uint64) (*coretypes.Transaction, error) {
		return coretypes.NewTx(&coretypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &c.proxy,
			Value:    value,
			Data:     callData,
		}), nil
	})
	if err != nil {
		logger.L().Warn("提交支付交易失败", slog.Any("error", err))
		return msgFailed, tx
	}
	tx.TxHash = signed.Hash().Hex()

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		// 超时后交易仍可能在链上落账，留下哈希供人工核对。
		logger.L().Warn("等待支付回执失败",
			slog.Any("error", err),
			slog.String("tx_hash", tx.TxHash),
		)
		return msgFailed, tx
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		logger.L().Warn("支付交易被回滚", slog.String("tx_hash", tx.TxHash))
		return msgFailed, tx
	}

	tx.Confirmed = true
	logger.Audit().Info("payment confirmed",
		slog.String("tx_hash", tx.TxHash),
		slog.String("recipient", recipientAddress),
		slog.Float64("amount", amount),
		slog.String("payment_reference", paymentReference),
	)
	return msgConfirmed, tx
}

// toMinorUnits 将整币金额换算为链上最小单位，round(amount × 10^decimals)。
func (c *Client) toMinorUnits(amount float64) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil))
	scaled := new(big.Float).Mul(big.NewFloat(amount), scale)
	scaled.Add(scaled, big.NewFloat(0.5))
	result, _ := scaled.Int(nil)
	return result
}

// decodeReference 将十六进制支付引用解码为链上事件索引使用的字节串。
func decodeReference(reference string) ([]byte, error) {
	reference = strings.TrimPrefix(strings.TrimSpace(reference), "0x")
	if reference == "" {
		return nil, errors.New("支付引用为空")
	}
	return hex.DecodeString(reference)
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmWait)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, err
		}
		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}
