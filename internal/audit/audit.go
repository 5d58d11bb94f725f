// Package audit maintains the append-only conversation record shared by all
// agents. Entries are observability data only and are never read back by the
// negotiation protocol itself.
package audit

import (
	"context"
	"log/slog"
	"time"

	"AgentPay-Chain/pkg/logger"
)

// 审计记录所在的队列名，与各 Agent 的信箱共用同一个存储。
const LogQueue = "conversation_logs"

// Entry 描述一条会话审计记录。
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
}

// Recorder 负责追加和读取审计记录。
type Recorder interface {
	Append(ctx context.Context, entry Entry) error
	Tail(ctx context.Context, limit int) ([]Entry, error)
}

// Record 写入一条审计记录，并镜像到结构化审计日志。写入失败只降级为
// 日志告警，不会中断协议流程。
func Record(ctx context.Context, recorder Recorder, agent, message string) {
	entry := Entry{Timestamp: time.Now(), Agent: agent, Message: message}
	logger.Audit().Info("conversation",
		slog.String("agent", agent),
		slog.String("message", message),
	)
	if recorder == nil {
		return
	}
	if err := recorder.Append(ctx, entry); err != nil {
		logger.L().Warn("追加审计记录失败",
			slog.Any("error", err),
			slog.String("agent", agent),
		)
	}
}
