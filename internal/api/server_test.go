package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentPay-Chain/internal/actions"
	"AgentPay-Chain/internal/agent"
	"AgentPay-Chain/internal/audit"
	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/mailbox"
	"AgentPay-Chain/internal/oracle"
	"AgentPay-Chain/internal/storage"
)

type silentOracle struct{}

func (silentOracle) Decide(context.Context, []oracle.Message, []oracle.ToolSchema) (*oracle.Reply, error) {
	return &oracle.Reply{Text: "Internal Message: idle"}, nil
}

func newTestServer(t *testing.T) (*Server, mailbox.Router, storage.TradeStore) {
	t.Helper()

	recorder := audit.NewMemoryRecorder(64)
	router := mailbox.NewMemoryRouter(recorder)
	rt, err := agent.NewRuntime(agent.Config{
		ID:         "Jarvis",
		Oracle:     silentOracle{},
		Dispatcher: actions.NewDispatcher(router),
		Router:     router,
		Recorder:   recorder,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	trades := storage.NewMemoryTradeStore()
	return NewServer("127.0.0.1:0", []*agent.Runtime{rt}, recorder, trades), router, trades
}

func TestHandleMessagesInjectsIntoMailbox(t *testing.T) {
	t.Parallel()

	server, router, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/messages", "application/json",
		strings.NewReader(`{"sender":"Cyril","recipient":"Jarvis","body":"buy me a haiku"}`))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	msg, err := router.DequeueOldest(context.Background(), "Jarvis")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if msg == nil || msg.Rendered() != "From Cyril : buy me a haiku" {
		t.Fatalf("message not delivered: %+v", msg)
	}
}

func TestHandleMessagesUnknownAgent(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/messages", "application/json",
		strings.NewReader(`{"sender":"Cyril","recipient":"Nobody","body":"hello"}`))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleAgentsReportsQueueLength(t *testing.T) {
	t.Parallel()

	server, router, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	if _, err := router.Enqueue(context.Background(), mailbox.Message{
		Sender: "Gemini", Recipient: "Jarvis", Body: "ping",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/agents")
	if err != nil {
		t.Fatalf("get agents: %v", err)
	}
	defer resp.Body.Close()

	var statuses []agentStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].ID != "Jarvis" || statuses[0].QueueLength != 1 {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestHandleLogsReturnsAuditTail(t *testing.T) {
	t.Parallel()

	server, router, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	if _, err := router.Enqueue(context.Background(), mailbox.Message{
		Sender: "Gemini", Recipient: "Jarvis", Body: "the price is 0.002 ETH",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/logs?limit=10")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()

	var entries []audit.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one audit entry")
	}
	found := false
	for _, entry := range entries {
		if entry.Agent == "Gemini" && strings.Contains(entry.Message, "to Jarvis") {
			found = true
		}
	}
	if !found {
		t.Fatalf("enqueue audit entry missing: %+v", entries)
	}
}

func TestHandleTrades(t *testing.T) {
	t.Parallel()

	server, _, trades := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	if err := trades.RecordInvoice(context.Background(), "Jarvis", &invoicing.Invoice{
		ID: "inv-1", Currency: "ETH-sepolia", Status: invoicing.StatusOpen,
	}); err != nil {
		t.Fatalf("record invoice: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/trades")
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	defer resp.Body.Close()

	var body tradesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Invoices) != 1 || body.Invoices[0].InvoiceID != "inv-1" {
		t.Fatalf("unexpected trades: %+v", body)
	}
}
