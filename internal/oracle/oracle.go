package oracle

import (
	"context"
	"encoding/json"
)

// Role 标识会话消息的来源。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是会话转录中的一条消息。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall 描述决策引擎发起的一次结构化动作调用，参数为原始 JSON，
// 由动作层解码为强类型结构。
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSchema 描述一个可供决策引擎调用的动作及其参数模式。
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Reply 是决策引擎对一段转录的输出：纯文本回复和零或多个动作调用。
type Reply struct {
	Text  string
	Calls []ToolCall
}

// Client 定义了调用外部决策引擎的统一接口。引擎内部的推理与谈判策略
// 对本系统完全透明。
type Client interface {
	Decide(ctx context.Context, transcript []Message, catalog []ToolSchema) (*Reply, error)
}
