package invoicing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ReferenceStrategy 决定支付引用如何得出。不同版本的开票网络行为不同：
// 当前集成直接在创建响应中返回引用，早期集成则需要二次查询后本地推导。
// 部署方通过配置选择策略，核心不假设哪一种是权威的。
type ReferenceStrategy interface {
	Resolve(ctx context.Context, client *Client, created createResponse) (string, error)
}

// NewReferenceStrategy 根据配置名返回对应的策略实现。
func NewReferenceStrategy(name string) (ReferenceStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "network":
		return networkReference{}, nil
	case "keccak":
		return keccakReference{}, nil
	default:
		return nil, fmt.Errorf("未知的支付引用策略: %s", name)
	}
}

// networkReference 直接采用开票网络在创建响应中返回的引用。
type networkReference struct{}

func (networkReference) Resolve(_ context.Context, _ *Client, created createResponse) (string, error) {
	if strings.TrimSpace(created.PaymentReference) == "" {
		return "", errors.New("开票网络未返回支付引用")
	}
	return created.PaymentReference, nil
}

// keccakReference 按早期协议推导引用：取 keccak256(requestID+salt+收款地址)
// 的最后 8 字节。三段拼接前统一转为小写。
type keccakReference struct{}

func (keccakReference) Resolve(ctx context.Context, client *Client, created createResponse) (string, error) {
	requestID, salt, err := client.fetchRequestInput(ctx, created.ID)
	if err != nil {
		return "", err
	}
	return ComputePaymentReference(requestID, salt, client.paymentAddress), nil
}

// ComputePaymentReference 推导将发票与链上转账绑定的支付引用。
func ComputePaymentReference(requestID, salt, paymentReceiver string) string {
	concat := strings.ToLower(requestID + salt + paymentReceiver)
	digest := crypto.Keccak256([]byte(concat))
	return hex.EncodeToString(digest[len(digest)-8:])
}
