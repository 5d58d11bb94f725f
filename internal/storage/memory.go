package storage

import (
	"context"
	"sync"
	"time"

	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/ledger"
)

const memoryStoreCapacity = 512

// MemoryTradeStore 将交易记录保存在内存中，用于测试与无数据库部署。
type MemoryTradeStore struct {
	mu       sync.RWMutex
	invoices []InvoiceRecord
	payments []PaymentRecord
}

// NewMemoryTradeStore 创建一个内存交易存储。
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{}
}

// RecordInvoice 记录一张发票，最新的排在最前。
func (m *MemoryTradeStore) RecordInvoice(_ context.Context, agentID string, inv *invoicing.Invoice) error {
	if inv == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices = append([]InvoiceRecord{{
		AgentID:          agentID,
		InvoiceID:        inv.ID,
		PayerEmail:       inv.PayerEmail,
		PayerAddress:     inv.PayerAddress,
		Currency:         inv.Currency,
		AmountMinorUnits: inv.AmountMinorUnits,
		ServiceLabel:     inv.ServiceLabel,
		PaymentReference: inv.PaymentReference,
		Status:           string(inv.Status),
		CreatedAt:        time.Now().Unix(),
	}}, m.invoices...)
	if len(m.invoices) > memoryStoreCapacity {
		m.invoices = m.invoices[:memoryStoreCapacity]
	}
	return nil
}

// RecordPayment 记录一笔支付，最新的排在最前。
func (m *MemoryTradeStore) RecordPayment(_ context.Context, agentID string, tx *ledger.PaymentTransaction) error {
	if tx == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.payments = append([]PaymentRecord{{
		AgentID:          agentID,
		RecipientAddress: tx.RecipientAddress,
		Amount:           tx.Amount,
		PaymentReference: tx.PaymentReference,
		TxHash:           tx.TxHash,
		Confirmed:        tx.Confirmed,
		CreatedAt:        time.Now().Unix(),
	}}, m.payments...)
	if len(m.payments) > memoryStoreCapacity {
		m.payments = m.payments[:memoryStoreCapacity]
	}
	return nil
}

// LatestInvoices 返回最近的发票记录。
func (m *MemoryTradeStore) LatestInvoices(_ context.Context, limit int) ([]InvoiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.invoices) {
		limit = len(m.invoices)
	}
	results := make([]InvoiceRecord, limit)
	copy(results, m.invoices[:limit])
	return results, nil
}

// LatestPayments 返回最近的支付记录。
func (m *MemoryTradeStore) LatestPayments(_ context.Context, limit int) ([]PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.payments) {
		limit = len(m.payments)
	}
	results := make([]PaymentRecord, limit)
	copy(results, m.payments[:limit])
	return results, nil
}

// Close 实现 TradeStore 接口，无资源需要释放。
func (m *MemoryTradeStore) Close() error {
	return nil
}
