package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"AgentPay-Chain/internal/audit"
)

// MemoryRouter 在内存中维护每个 Agent 的信箱，主要用于测试。
type MemoryRouter struct {
	mu       sync.Mutex
	queues   map[string][]Message
	closed   bool
	recorder audit.Recorder
}

// NewMemoryRouter 创建一个内存信箱路由。
func NewMemoryRouter(recorder audit.Recorder) *MemoryRouter {
	return &MemoryRouter{
		queues:   make(map[string][]Message),
		recorder: recorder,
	}
}

// Enqueue 将消息追加到收件人信箱尾部。
func (m *MemoryRouter) Enqueue(ctx context.Context, msg Message) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errors.New("信箱已关闭")
	}
	queue := QueueName(msg.Recipient)
	m.queues[queue] = append(m.queues[queue], msg)
	m.mu.Unlock()

	audit.Record(ctx, m.recorder, msg.Sender, fmt.Sprintf("to %s : %s", msg.Recipient, msg.Body))
	return DeliveryAck(msg.Recipient), nil
}

// DequeueOldest 取出最早入队的消息，信箱为空时返回 nil。
func (m *MemoryRouter) DequeueOldest(_ context.Context, agentID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := QueueName(agentID)
	pending := m.queues[queue]
	if len(pending) == 0 {
		return nil, nil
	}
	msg := pending[0]
	m.queues[queue] = pending[1:]
	return &msg, nil
}

// Length 返回信箱中的未读消息数。
func (m *MemoryRouter) Length(_ context.Context, agentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[QueueName(agentID)])), nil
}

// Close 关闭内存信箱。
func (m *MemoryRouter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
