package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"AgentPay-Chain/internal/audit"
	xerrors "AgentPay-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 信箱的连接参数。
type RabbitMQConfig struct {
	URL     string
	Durable bool
}

// RabbitMQRouter 为每个 Agent 声明一个独立队列来实现信箱。
//
// 出队使用自动确认的 basic.get，消息一经取出即视为消费完成，与规范要求的
// at-most-once 投递语义一致。
type RabbitMQRouter struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	durable  bool
	declared map[string]bool
	recorder audit.Recorder
}

// NewRabbitMQRouter 创建 RabbitMQ 信箱路由。
func NewRabbitMQRouter(cfg RabbitMQConfig, recorder audit.Recorder) (*RabbitMQRouter, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	return &RabbitMQRouter{
		conn:     conn,
		ch:       ch,
		durable:  cfg.Durable,
		declared: make(map[string]bool),
		recorder: recorder,
	}, nil
}

func (r *RabbitMQRouter) ensureQueue(agentID string) (string, error) {
	queue := QueueName(agentID)
	if r.declared[queue] {
		return queue, nil
	}
	if _, err := r.ch.QueueDeclare(queue, r.durable, false, false, false, nil); err != nil {
		return "", fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	r.declared[queue] = true
	return queue, nil
}

// Enqueue 将消息发布到收件人队列，同时追加审计记录。
func (r *RabbitMQRouter) Enqueue(ctx context.Context, msg Message) (string, error) {
	if r == nil || r.ch == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "信箱路由未初始化")
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("序列化消息失败: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, err := r.ensureQueue(msg.Recipient)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeMailboxFailure, err, "消息入队失败")
	}
	err = r.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        encoded,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeMailboxFailure, err, "消息入队失败")
	}
	audit.Record(ctx, r.recorder, msg.Sender, fmt.Sprintf("to %s : %s", msg.Recipient, msg.Body))
	return DeliveryAck(msg.Recipient), nil
}

// DequeueOldest 取出队首消息，队列为空时返回 nil。
func (r *RabbitMQRouter) DequeueOldest(_ context.Context, agentID string) (*Message, error) {
	if r == nil || r.ch == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "信箱路由未初始化")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, err := r.ensureQueue(agentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "消息出队失败")
	}
	delivery, ok, err := r.ch.Get(queue, true)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "消息出队失败")
	}
	if !ok {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		msg = Message{Recipient: agentID, Body: string(delivery.Body)}
	}
	return &msg, nil
}

// Length 返回队列中的未读消息数。
func (r *RabbitMQRouter) Length(_ context.Context, agentID string) (int64, error) {
	if r == nil || r.ch == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "信箱路由未初始化")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.ensureQueue(agentID); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "查询信箱长度失败")
	}
	state, err := r.ch.QueueDeclarePassive(QueueName(agentID), r.durable, false, false, false, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "查询信箱长度失败")
	}
	return int64(state.Messages), nil
}

// Close 关闭 RabbitMQ 连接。
func (r *RabbitMQRouter) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
