package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "AgentPay-Chain/internal/errors"
)

// RedisRecorder 将审计记录追加到 Redis 的 conversation_logs 列表。
type RedisRecorder struct {
	client *redis.Client
	queue  string
}

// NewRedisRecorder 基于已建立的 Redis 连接创建审计记录器。
func NewRedisRecorder(client *redis.Client) *RedisRecorder {
	return &RedisRecorder{client: client, queue: LogQueue}
}

// Append 序列化记录并写入列表头部，与信箱的写入方向保持一致。
func (r *RedisRecorder) Append(ctx context.Context, entry Entry) error {
	if r == nil || r.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "审计记录器未初始化")
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化审计记录失败: %w", err)
	}
	if err := r.client.LPush(ctx, r.queue, encoded).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeAuditFailure, err, "写入审计记录失败")
	}
	return nil
}

// Tail 返回最近的 limit 条记录，按时间倒序排列。
func (r *RedisRecorder) Tail(ctx context.Context, limit int) ([]Entry, error) {
	if r == nil || r.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "审计记录器未初始化")
	}
	if limit <= 0 {
		limit = 50
	}
	values, err := r.client.LRange(ctx, r.queue, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuditFailure, err, "读取审计记录失败")
	}
	entries := make([]Entry, 0, len(values))
	for _, value := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
