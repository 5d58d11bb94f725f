package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"AgentPay-Chain/internal/audit"
	xerrors "AgentPay-Chain/internal/errors"
)

// RedisConfig 描述 Redis 信箱的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisRouter 使用 Redis list 实现每个 Agent 的信箱队列。
//
// 写入方向为 LPush、读取方向为 RPop，因此列表尾部始终是最旧的消息。
type RedisRouter struct {
	client   *redis.Client
	recorder audit.Recorder
}

// NewRedisRouter 建立 Redis 连接并返回信箱路由。
func NewRedisRouter(cfg RedisConfig, recorder audit.Recorder) (*RedisRouter, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisRouter{client: client, recorder: recorder}, nil
}

// Client 暴露底层连接，便于审计记录器与信箱复用同一个连接。
func (r *RedisRouter) Client() *redis.Client {
	return r.client
}

// SetRecorder 绑定审计记录器。记录器通常基于 Client() 返回的连接构造，
// 因此只能在路由创建之后再绑定。
func (r *RedisRouter) SetRecorder(recorder audit.Recorder) {
	r.recorder = recorder
}

// Enqueue 将消息投递到收件人信箱，同时追加审计记录。
func (r *RedisRouter) Enqueue(ctx context.Context, msg Message) (string, error) {
	if r == nil || r.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "信箱路由未初始化")
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("序列化消息失败: %w", err)
	}
	if err := r.client.LPush(ctx, QueueName(msg.Recipient), encoded).Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeMailboxFailure, err, "消息入队失败")
	}
	audit.Record(ctx, r.recorder, msg.Sender, fmt.Sprintf("to %s : %s", msg.Recipient, msg.Body))
	return DeliveryAck(msg.Recipient), nil
}

// DequeueOldest 从信箱尾部取出最旧的消息，信箱为空时返回 nil。
func (r *RedisRouter) DequeueOldest(ctx context.Context, agentID string) (*Message, error) {
	if r == nil || r.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "信箱路由未初始化")
	}
	value, err := r.client.RPop(ctx, QueueName(agentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "消息出队失败")
	}
	var msg Message
	if err := json.Unmarshal([]byte(value), &msg); err != nil {
		// 兼容外部直接写入的纯文本消息。
		msg = Message{Recipient: agentID, Body: value}
	}
	return &msg, nil
}

// Length 返回信箱中的未读消息数。
func (r *RedisRouter) Length(ctx context.Context, agentID string) (int64, error) {
	if r == nil || r.client == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "信箱路由未初始化")
	}
	length, err := r.client.LLen(ctx, QueueName(agentID)).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "查询信箱长度失败")
	}
	return length, nil
}

// Close 关闭 Redis 连接。
func (r *RedisRouter) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
