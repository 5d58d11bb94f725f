package mailbox

import (
	"context"
	"fmt"
	"time"
)

// Message 描述一条在两个 Agent 之间流转的消息。入队后即视为不可变。
type Message struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Rendered 按照协议约定渲染投递给收件人的文本，收件人的决策引擎通过
// "From" 前缀识别对话方。
func (m Message) Rendered() string {
	return fmt.Sprintf("From %s : %s", m.Sender, m.Body)
}

// Router 定义了每个 Agent 独占的先进先出信箱。
//
// 投递语义为每次轮询至多一条：即使积压多条消息，DequeueOldest 也只取走
// 最旧的一条，由调度器的下一个 tick 继续消化积压。
type Router interface {
	// Enqueue 将消息写入收件人的信箱并返回投递确认文本。
	Enqueue(ctx context.Context, msg Message) (string, error)
	// DequeueOldest 取出指定 Agent 最旧的未读消息，信箱为空时返回 nil。
	DequeueOldest(ctx context.Context, agentID string) (*Message, error)
	// Length 返回指定 Agent 信箱中的未读消息数。
	Length(ctx context.Context, agentID string) (int64, error)
	Close() error
}

// QueueName 返回 Agent 对应的信箱队列名。
func QueueName(agentID string) string {
	return agentID + "_queue"
}

// DeliveryAck 构造投递成功的确认文本，该文本会原样返回给决策引擎。
func DeliveryAck(recipientID string) string {
	return "Message Sent to " + recipientID
}
