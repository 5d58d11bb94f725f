// Package storage 持久化协商过程产生的发票与支付记录，供事后审计。
package storage

import (
	"context"

	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/ledger"
)

// InvoiceRecord 表示一张已开发票的落库结构。
type InvoiceRecord struct {
	AgentID          string
	InvoiceID        string
	PayerEmail       string
	PayerAddress     string
	Currency         string
	AmountMinorUnits string
	ServiceLabel     string
	PaymentReference string
	Status           string
	CreatedAt        int64
}

// PaymentRecord 表示一笔链上支付的落库结构。
type PaymentRecord struct {
	AgentID          string
	RecipientAddress string
	Amount           float64
	PaymentReference string
	TxHash           string
	Confirmed        bool
	CreatedAt        int64
}

// TradeStore 抽象交易数据的持久化接口。
type TradeStore interface {
	RecordInvoice(ctx context.Context, agentID string, inv *invoicing.Invoice) error
	RecordPayment(ctx context.Context, agentID string, tx *ledger.PaymentTransaction) error
	LatestInvoices(ctx context.Context, limit int) ([]InvoiceRecord, error)
	LatestPayments(ctx context.Context, limit int) ([]PaymentRecord, error)
	Close() error
}
