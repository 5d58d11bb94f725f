package invoicing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, serverURL, strategy string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:           serverURL,
		APIKey:            "test-key",
		PaymentAddress:    "0x1111111111111111111111111111111111111111",
		ReferenceStrategy: strategy,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestIssueValidatesBeforeNetwork(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "network")

	cases := []struct {
		name string
		req  IssueRequest
		want string
	}{
		{
			name: "missing email",
			req:  IssueRequest{PayerAddress: "0x2", Currency: "ETH-sepolia", Price: 0.01},
			want: "Email of the client is missing",
		},
		{
			name: "missing identity address",
			req:  IssueRequest{PayerEmail: "x@y.com", Currency: "ETH-sepolia", Price: 0.01, ServiceLabel: "Haiku", AutoPayment: true},
			want: "Identity address of the client is missing",
		},
		{
			name: "missing currency",
			req:  IssueRequest{PayerEmail: "x@y.com", PayerAddress: "0x2", Price: 0.01},
			want: "Currency information is missing. value is commonly ETH",
		},
		{
			name: "missing price",
			req:  IssueRequest{PayerEmail: "x@y.com", PayerAddress: "0x2", Currency: "ETH-sepolia"},
			want: "A service price in ETH is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, invoice := client.Issue(context.Background(), tc.req)
			if text != tc.want {
				t.Fatalf("unexpected text: %q", text)
			}
			if invoice != nil {
				t.Fatalf("expected no invoice, got %+v", invoice)
			}
		})
	}
	if requests.Load() != 0 {
		t.Fatalf("validation errors must not contact the invoicing network, saw %d requests", requests.Load())
	}
}

func TestIssueAutoPayment(t *testing.T) {
	var payload invoicePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"66c0f718","paymentReference":"aabbccdd00112233"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "network")
	text, invoice := client.Issue(context.Background(), IssueRequest{
		PayerEmail:   "test.email@gmail.com",
		PayerAddress: "0x2222222222222222222222222222222222222222",
		Currency:     "ETH-sepolia",
		Price:        0.001,
		ServiceLabel: "Haiku",
		AutoPayment:  true,
	})

	if invoice == nil {
		t.Fatalf("expected invoice, got text %q", text)
	}
	if invoice.ID != "66c0f718" || invoice.PaymentReference != "aabbccdd00112233" {
		t.Fatalf("unexpected invoice: %+v", invoice)
	}
	if invoice.Status != StatusIssued {
		t.Fatalf("unexpected status: %s", invoice.Status)
	}
	if !strings.Contains(text, "aabbccdd00112233") || !strings.Contains(text, "66c0f718") {
		t.Fatalf("reply text must carry reference and invoice ID: %q", text)
	}

	if payload.ExpectedAmount != "1000000000000000" {
		t.Fatalf("0.001 ETH must encode to 1000000000000000, got %q", payload.ExpectedAmount)
	}
	if payload.ContentData.InvoiceItems[0].UnitPrice != "1000000000000000" {
		t.Fatalf("unexpected unit price %q", payload.ContentData.InvoiceItems[0].UnitPrice)
	}
	if payload.ContentData.InvoiceNumber == "" {
		t.Fatal("invoice number must be set")
	}
	if payload.ContentData.BuyerInfo.Email != "test.email@gmail.com" {
		t.Fatalf("unexpected buyer email %q", payload.ContentData.BuyerInfo.Email)
	}
}

func TestIssueRejectedByNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"currency must be ETH-sepolia"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "network")
	text, invoice := client.Issue(context.Background(), IssueRequest{
		PayerEmail:   "x@y.com",
		PayerAddress: "0x2",
		Currency:     "DOGE",
		Price:        1,
	})
	if text != ErrGenerateInvoice {
		t.Fatalf("unexpected text: %q", text)
	}
	if invoice != nil {
		t.Fatalf("expected no invoice, got %+v", invoice)
	}
}

func TestCheckStatusIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/invoices/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"open"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "network")
	ctx := context.Background()

	first, err := client.CheckStatus(ctx, "inv-1", 0)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	second, err := client.CheckStatus(ctx, "inv-1", 0)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if first != second {
		t.Fatalf("consecutive checks must match:\n%q\n%q", first, second)
	}
	if !strings.Contains(first, "current status of invoice ID inv-1 is: open") {
		t.Fatalf("unexpected status text: %q", first)
	}
}

func TestCheckStatusExhaustsAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"open"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:        server.URL,
		PaymentAddress: "0x1",
		Poll:           PollPolicy{MaxAttempts: 2},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	if _, err := client.CheckStatus(ctx, "inv-2", 0); err != nil {
		t.Fatalf("check status: %v", err)
	}
	text, err := client.CheckStatus(ctx, "inv-2", 0)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if !strings.Contains(text, "stop checking") {
		t.Fatalf("expected exhaustion guidance, got %q", text)
	}
}

func TestKeccakReferenceStrategy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"req-9"}`))
		case r.URL.RawQuery == "withRequest=true":
			_, _ = w.Write([]byte(`{"requestId":"req-9","request":{"requestInput":{"payment":{"salt":"random_salt"}}}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "keccak")
	text, invoice := client.Issue(context.Background(), IssueRequest{
		PayerEmail:   "x@y.com",
		PayerAddress: "0x2",
		Currency:     "ETH-sepolia",
		Price:        0.01,
		AutoPayment:  true,
	})
	if invoice == nil {
		t.Fatalf("expected invoice, got text %q", text)
	}
	want := ComputePaymentReference("req-9", "random_salt", client.PaymentAddress())
	if invoice.PaymentReference != want {
		t.Fatalf("reference mismatch: got %q want %q", invoice.PaymentReference, want)
	}
	if len(invoice.PaymentReference) != 16 {
		t.Fatalf("reference must be 8 bytes hex, got %q", invoice.PaymentReference)
	}
}

func TestComputePaymentReferenceProperties(t *testing.T) {
	a := ComputePaymentReference("req-1", "salt", "0xAbC")
	b := ComputePaymentReference("req-1", "salt", "0xabc")
	if a != b {
		t.Fatal("reference must be case-insensitive over its inputs")
	}
	c := ComputePaymentReference("req-2", "salt", "0xabc")
	if a == c {
		t.Fatal("distinct requests must yield distinct references")
	}
}

func TestAmountMinorUnits(t *testing.T) {
	cases := map[float64]string{
		0.001: "1000000000000000",
		0.01:  "10000000000000000",
		1:     "1000000000000000000",
	}
	for price, want := range cases {
		if got := AmountMinorUnits(price); got != want {
			t.Fatalf("AmountMinorUnits(%v) = %q, want %q", price, got, want)
		}
	}
}
