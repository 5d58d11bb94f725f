package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/ledger"
)

// SQLTradeStore 使用 MySQL 存储交易记录。
type SQLTradeStore struct {
	db *sql.DB
}

// NewSQLTradeStore 创建连接池并初始化数据表。
func NewSQLTradeStore(ctx context.Context, dsn string) (*SQLTradeStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	store := &SQLTradeStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLTradeStore) initSchema(ctx context.Context) error {
	const invoices = `CREATE TABLE IF NOT EXISTS trade_invoices (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        agent_id VARCHAR(128) NOT NULL,
        invoice_id VARCHAR(128) NOT NULL,
        payer_email VARCHAR(255) DEFAULT '',
        payer_address VARCHAR(66) DEFAULT '',
        currency VARCHAR(32) DEFAULT '',
        amount_minor_units VARCHAR(66) DEFAULT '',
        service_label VARCHAR(255) DEFAULT '',
        payment_reference VARCHAR(66) DEFAULT '',
        status VARCHAR(32) DEFAULT '',
        created_at BIGINT NOT NULL,
        INDEX idx_invoices_created_at (created_at)
)`
	const payments = `CREATE TABLE IF NOT EXISTS trade_payments (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        agent_id VARCHAR(128) NOT NULL,
        recipient_address VARCHAR(66) NOT NULL,
        amount DOUBLE NOT NULL,
        payment_reference VARCHAR(66) DEFAULT '',
        tx_hash VARCHAR(66) DEFAULT '',
        confirmed TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_payments_created_at (created_at)
)`

	if _, err := s.db.ExecContext(ctx, invoices); err != nil {
		return fmt.Errorf("初始化 trade_invoices 表失败: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, payments); err != nil {
		return fmt.Errorf("初始化 trade_payments 表失败: %w", err)
	}
	return nil
}

// RecordInvoice 将发票记录写入 MySQL。
func (s *SQLTradeStore) RecordInvoice(ctx context.Context, agentID string, inv *invoicing.Invoice) error {
	if inv == nil {
		return nil
	}
	const stmt = `INSERT INTO trade_invoices
        (agent_id, invoice_id, payer_email, payer_address, currency, amount_minor_units, service_label, payment_reference, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		agentID,
		inv.ID,
		inv.PayerEmail,
		inv.PayerAddress,
		inv.Currency,
		inv.AmountMinorUnits,
		inv.ServiceLabel,
		inv.PaymentReference,
		string(inv.Status),
		time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("写入发票记录失败: %w", err)
	}
	return nil
}

// RecordPayment 将支付记录写入 MySQL。
func (s *SQLTradeStore) RecordPayment(ctx context.Context, agentID string, tx *ledger.PaymentTransaction) error {
	if tx == nil {
		return nil
	}
	const stmt = `INSERT INTO trade_payments
        (agent_id, recipient_address, amount, payment_reference, tx_hash, confirmed, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		agentID,
		tx.RecipientAddress,
		tx.Amount,
		tx.PaymentReference,
		tx.TxHash,
		tx.Confirmed,
		time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("写入支付记录失败: %w", err)
	}
	return nil
}

// LatestInvoices 查询最近的发票记录。
func (s *SQLTradeStore) LatestInvoices(ctx context.Context, limit int) ([]InvoiceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, invoice_id, payer_email, payer_address, currency, amount_minor_units, service_label, payment_reference, status, created_at
        FROM trade_invoices ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询发票记录失败: %w", err)
	}
	defer rows.Close()

	var records []InvoiceRecord
	for rows.Next() {
		var r InvoiceRecord
		if err := rows.Scan(&r.AgentID, &r.InvoiceID, &r.PayerEmail, &r.PayerAddress, &r.Currency, &r.AmountMinorUnits, &r.ServiceLabel, &r.PaymentReference, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析发票记录失败: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历发票记录失败: %w", err)
	}
	return records, nil
}

// LatestPayments 查询最近的支付记录。
func (s *SQLTradeStore) LatestPayments(ctx context.Context, limit int) ([]PaymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, recipient_address, amount, payment_reference, tx_hash, confirmed, created_at
        FROM trade_payments ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询支付记录失败: %w", err)
	}
	defer rows.Close()

	var records []PaymentRecord
	for rows.Next() {
		var r PaymentRecord
		if err := rows.Scan(&r.AgentID, &r.RecipientAddress, &r.Amount, &r.PaymentReference, &r.TxHash, &r.Confirmed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析支付记录失败: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历支付记录失败: %w", err)
	}
	return records, nil
}

// Close 释放数据库连接池。
func (s *SQLTradeStore) Close() error {
	return s.db.Close()
}
