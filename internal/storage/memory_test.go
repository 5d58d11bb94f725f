package storage

import (
	"context"
	"fmt"
	"testing"

	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/ledger"
)

func TestMemoryTradeStoreNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewMemoryTradeStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.RecordInvoice(ctx, "Jarvis", &invoicing.Invoice{
			ID:       fmt.Sprintf("inv-%d", i),
			Currency: "ETH-sepolia",
			Status:   invoicing.StatusOpen,
		})
		if err != nil {
			t.Fatalf("record invoice %d: %v", i, err)
		}
	}

	invoices, err := store.LatestInvoices(ctx, 2)
	if err != nil {
		t.Fatalf("latest invoices: %v", err)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
	if invoices[0].InvoiceID != "inv-2" || invoices[1].InvoiceID != "inv-1" {
		t.Fatalf("expected newest first, got %+v", invoices)
	}
}

func TestMemoryTradeStoreIgnoresNilRecords(t *testing.T) {
	t.Parallel()

	store := NewMemoryTradeStore()
	ctx := context.Background()

	if err := store.RecordInvoice(ctx, "Jarvis", nil); err != nil {
		t.Fatalf("nil invoice: %v", err)
	}
	if err := store.RecordPayment(ctx, "Jarvis", nil); err != nil {
		t.Fatalf("nil payment: %v", err)
	}

	invoices, _ := store.LatestInvoices(ctx, 10)
	payments, _ := store.LatestPayments(ctx, 10)
	if len(invoices) != 0 || len(payments) != 0 {
		t.Fatalf("nil records must not be stored: %d invoices, %d payments", len(invoices), len(payments))
	}
}

func TestMemoryTradeStorePayments(t *testing.T) {
	t.Parallel()

	store := NewMemoryTradeStore()
	ctx := context.Background()

	err := store.RecordPayment(ctx, "Gemini", &ledger.PaymentTransaction{
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		Amount:           0.0017,
		PaymentReference: "c7de74b5033f1e85",
		TxHash:           "0xdeadbeef",
		Confirmed:        true,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	payments, err := store.LatestPayments(ctx, 10)
	if err != nil {
		t.Fatalf("latest payments: %v", err)
	}
	if len(payments) != 1 || !payments[0].Confirmed || payments[0].AgentID != "Gemini" {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}
