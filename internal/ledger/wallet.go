package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// WalletSession 独占持有一个签名钱包：私钥、地址与 nonce 分配。
//
// 一个钱包只能属于一个 Agent。nonce 的查询、签名与提交在同一把锁内
// 完成，保证同一钱包绝不会并发签出两笔相同 nonce 的交易。
type WalletSession struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	mu      sync.Mutex
}

// NewWalletSession 从十六进制私钥构造钱包会话。私钥仅在本地用于签名，
// 绝不会出现在任何网络请求中。
func NewWalletSession(hexKey string, chainID *big.Int) (*WalletSession, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("未提供钱包私钥")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("未提供链 ID")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	return &WalletSession{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// Address 返回钱包地址。
func (w *WalletSession) Address() common.Address {
	return w.address
}

// ChainID 返回钱包绑定的链 ID。
func (w *WalletSession) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// nonceSource 提供待处理交易计数查询。
type nonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// txSubmitter 提交已签名交易。
type txSubmitter interface {
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// SignAndSubmit 在持锁状态下分配 nonce、构造并签名交易、提交到链上。
// build 回调收到本次分配的 nonce，返回未签名交易。
func (w *WalletSession) SignAndSubmit(
	ctx context.Context,
	nonces nonceSource,
	submitter txSubmitter,
	build func(nonce uint64) (*coretypes.Transaction, error),
) (*coretypes.Transaction, error) {
	if w == nil || w.key == nil {
		return nil, errors.New("钱包会话未初始化")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := nonces.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("查询钱包 nonce 失败: %w", err)
	}
	tx, err := build(nonce)
	if err != nil {
		return nil, err
	}
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := submitter.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("提交交易失败: %w", err)
	}
	return signed, nil
}
