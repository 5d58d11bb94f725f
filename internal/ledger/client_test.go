package ledger

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
)

func newSimulatedEnv(t *testing.T) (*Client, *backends.SimulatedBackend, func()) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chainID := big.NewInt(1337)
	wallet, err := NewWalletSession(hex.EncodeToString(crypto.FromECDSA(key)), chainID)
	if err != nil {
		t.Fatalf("new wallet session: %v", err)
	}

	alloc := core.GenesisAlloc{
		wallet.Address(): {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)

	def := CurrencyDefinition{
		ChainID:      chainID.Int64(),
		Decimals:     18,
		ProxyAddress: "0xe11BF2fDA23bF0A98365e1A4c04A87C9339e8687",
		FeeAddress:   "0x35d0e078755Cd84D3E0656cAaB417Dee1d7939c7",
	}
	client, err := NewClientWithBackend(backend, def, wallet, WithConfirmWait(10*time.Second))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()

	return client, backend, func() { close(done) }
}

func TestPerformPaymentConfirmsOnChain(t *testing.T) {
	t.Parallel()

	client, backend, stop := newSimulatedEnv(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	recipient := "0x1111111111111111111111111111111111111111"
	text, tx := client.PerformPayment(ctx, recipient, 0.001, "c7de74b5033f1e85")
	if text != msgConfirmed {
		t.Fatalf("unexpected result text: %q", text)
	}
	if tx == nil || !tx.Confirmed {
		t.Fatalf("expected confirmed transaction, got %+v", tx)
	}
	if tx.TxHash == "" {
		t.Fatal("expected transaction hash")
	}

	nonce, err := backend.PendingNonceAt(ctx, client.Wallet().Address())
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("expected wallet nonce 1 after payment, got %d", nonce)
	}
}

func TestPerformPaymentRejectsMissingRecipient(t *testing.T) {
	t.Parallel()

	client, backend, stop := newSimulatedEnv(t)
	defer stop()

	ctx := context.Background()
	for _, recipient := range []string{"", "   ", "not-an-address"} {
		text, tx := client.PerformPayment(ctx, recipient, 0.001, "c7de74b5033f1e85")
		if text != msgMissingRecipient {
			t.Fatalf("recipient %q: unexpected text %q", recipient, text)
		}
		if tx != nil {
			t.Fatalf("recipient %q: expected nil transaction", recipient)
		}
	}

	nonce, err := backend.PendingNonceAt(ctx, client.Wallet().Address())
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("expected no transaction submitted, nonce = %d", nonce)
	}
}

func TestPerformPaymentRejectsBadReference(t *testing.T) {
	t.Parallel()

	client, _, stop := newSimulatedEnv(t)
	defer stop()

	text, tx := client.PerformPayment(context.Background(), "0x1111111111111111111111111111111111111111", 0.001, "zzzz")
	if text != msgMissingReference {
		t.Fatalf("unexpected text %q", text)
	}
	if tx != nil {
		t.Fatal("expected nil transaction for invalid payment reference")
	}
}

func TestToMinorUnits(t *testing.T) {
	t.Parallel()

	client := &Client{decimals: 18}
	cases := []struct {
		amount float64
		want   string
	}{
		{0.001, "1000000000000000"},
		{1, "1000000000000000000"},
		{0.5, "500000000000000000"},
	}
	for _, tc := range cases {
		if got := client.toMinorUnits(tc.amount).String(); got != tc.want {
			t.Fatalf("toMinorUnits(%v) = %s, want %s", tc.amount, got, tc.want)
		}
	}
}

func TestWalletSessionRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewWalletSession("", big.NewInt(1)); err == nil {
		t.Fatal("expected error for empty private key")
	}
	if _, err := NewWalletSession("0xzz", big.NewInt(1)); err == nil {
		t.Fatal("expected error for malformed private key")
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := NewWalletSession(hex.EncodeToString(crypto.FromECDSA(key)), nil); err == nil {
		t.Fatal("expected error for missing chain id")
	}
}
