// Package api 暴露监控接口：对话日志、Agent 状态与人工消息注入。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentPay-Chain/internal/agent"
	"AgentPay-Chain/internal/audit"
	"AgentPay-Chain/internal/mailbox"
	"AgentPay-Chain/internal/storage"
)

// Server 负责暴露 REST 接口，供网页端监控协商过程。
type Server struct {
	addr     string
	agents   []*agent.Runtime
	recorder audit.Recorder
	trades   storage.TradeStore
}

// NewServer 构造监控服务实例。trades 可以为 nil。
func NewServer(addr string, agents []*agent.Runtime, recorder audit.Recorder, trades storage.TradeStore) *Server {
	return &Server{addr: addr, agents: agents, recorder: recorder, trades: trades}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回路由后的处理器，测试时可直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/messages", s.handleMessages)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	return mux
}

// handleLogs 按时间倒序返回最近的对话日志。
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		http.Error(w, "审计日志未启用", http.StatusServiceUnavailable)
		return
	}

	entries, err := s.recorder.Tail(r.Context(), parseLimit(r, 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

type agentStatus struct {
	ID          string      `json:"id"`
	QueueLength int64       `json:"queue_length"`
	Stats       agent.Stats `json:"stats"`
}

// handleAgents 返回各 Agent 的信箱积压与累计计数。
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	statuses := make([]agentStatus, 0, len(s.agents))
	for _, rt := range s.agents {
		length, err := rt.QueueLength(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		statuses = append(statuses, agentStatus{
			ID:          rt.ID(),
			QueueLength: length,
			Stats:       rt.Snapshot(),
		})
	}
	writeJSON(w, statuses)
}

type injectRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// handleMessages 将一条人工消息注入指定 Agent 的信箱，模拟委托人发言。
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Recipient) == "" || strings.TrimSpace(req.Body) == "" {
		http.Error(w, "recipient 与 body 不能为空", http.StatusBadRequest)
		return
	}

	for _, rt := range s.agents {
		if rt.ID() != req.Recipient {
			continue
		}
		ack, err := rt.Deliver(r.Context(), mailbox.Message{
			Sender:    req.Sender,
			Recipient: req.Recipient,
			Body:      req.Body,
			Timestamp: time.Now(),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"result": ack})
		return
	}
	http.Error(w, "未知的 Agent: "+req.Recipient, http.StatusNotFound)
}

type tradesResponse struct {
	Invoices []storage.InvoiceRecord `json:"invoices"`
	Payments []storage.PaymentRecord `json:"payments"`
}

// handleTrades 返回最近的发票与支付记录。
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.trades == nil {
		http.Error(w, "交易存储未启用", http.StatusServiceUnavailable)
		return
	}

	limit := parseLimit(r, 20)
	invoices, err := s.trades.LatestInvoices(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payments, err := s.trades.LatestPayments(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, tradesResponse{Invoices: invoices, Payments: payments})
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
