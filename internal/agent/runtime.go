// Package agent 实现协商 Agent 的运行时：信箱轮询、决策引擎对话回路
// 与回复文本的分类处理。
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"AgentPay-Chain/internal/actions"
	"AgentPay-Chain/internal/audit"
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/mailbox"
	"AgentPay-Chain/internal/oracle"
	"AgentPay-Chain/pkg/logger"
)

// 发给决策引擎的纠偏提示，文本是协议的一部分，不要改写。
const (
	assistantCorrection = "if you want to send a message to another AI and not the user , use the SendMessage tool and check that the case sensitive AI ID is correct, please remember this information"
	providerCorrection  = "if this message is meant to be sent to another AI, use the SendMessage tool and check that the case sensitive AI ID is correct, else start your sentence with 'Internal Message: '.  please remember this information"

	internalMessageMarker = "internal message"
	exceptionMarker       = "Exception:"
)

const (
	defaultMemoryDepth   = 40
	defaultMaxToolRounds = 8
)

// Config 描述一个 Agent 运行时的全部装配。
type Config struct {
	// ID 是 Agent 的唯一标识，同时决定其信箱队列名。大小写敏感。
	ID string
	// PrincipalID 为空表示该 Agent 不直接服务于人类委托人（服务方角色）。
	PrincipalID string
	// Persona 是注入决策引擎的系统提示词。
	Persona string
	// Enabled 是该 Agent 可调用的动作集合。
	Enabled []actions.Name

	Oracle     oracle.Client
	Dispatcher *actions.Dispatcher
	Router     mailbox.Router
	Recorder   audit.Recorder

	// MemoryDepth 限制对话记忆保留的消息条数，按整轮对话裁剪。
	MemoryDepth int
	// MaxToolRounds 限制单次对话中连续工具调用的轮数。
	MaxToolRounds int
}

// Stats 是运行时的累计计数，用于监控接口。
type Stats struct {
	Ticks             uint64 `json:"ticks"`
	MessagesProcessed uint64 `json:"messages_processed"`
	ToolCalls         uint64 `json:"tool_calls"`
	OracleFailures    uint64 `json:"oracle_failures"`
}

// Runtime 是单个 Agent 的运行时。Tick 之间不并发：同一 Runtime 的
// Tick 由调度器串行触发。
type Runtime struct {
	id            string
	principalID   string
	persona       string
	enabled       []actions.Name
	oracle        oracle.Client
	dispatcher    *actions.Dispatcher
	router        mailbox.Router
	recorder      audit.Recorder
	memoryDepth   int
	maxToolRounds int

	mu       sync.Mutex
	segments [][]oracle.Message
	stats    Stats
}

// NewRuntime 校验配置并构造 Agent 运行时。
func NewRuntime(cfg Config) (*Runtime, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Agent ID 不能为空")
	}
	if cfg.Oracle == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置决策引擎客户端")
	}
	if cfg.Dispatcher == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置动作分发器")
	}
	if cfg.Router == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置信箱路由")
	}
	memoryDepth := cfg.MemoryDepth
	if memoryDepth <= 0 {
		memoryDepth = defaultMemoryDepth
	}
	maxToolRounds := cfg.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	return &Runtime{
		id:            cfg.ID,
		principalID:   cfg.PrincipalID,
		persona:       cfg.Persona,
		enabled:       append([]actions.Name(nil), cfg.Enabled...),
		oracle:        cfg.Oracle,
		dispatcher:    cfg.Dispatcher,
		router:        cfg.Router,
		recorder:      cfg.Recorder,
		memoryDepth:   memoryDepth,
		maxToolRounds: maxToolRounds,
	}, nil
}

// ID 返回 Agent 标识。
func (r *Runtime) ID() string {
	return r.id
}

// Snapshot 返回当前累计计数的副本。
func (r *Runtime) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// QueueLength 返回 Agent 信箱中的未读消息数。
func (r *Runtime) QueueLength(ctx context.Context) (int64, error) {
	return r.router.Length(ctx, r.id)
}

// Deliver 将一条消息直接投递进本 Agent 的信箱，供监控接口注入人工消息。
func (r *Runtime) Deliver(ctx context.Context, msg mailbox.Message) (string, error) {
	msg.Recipient = r.id
	return r.router.Enqueue(ctx, msg)
}

// Tick 执行一次轮询：至多取出一条消息并完成处理。
// 返回是否处理了消息；信箱为空时返回 (false, nil)。
func (r *Runtime) Tick(ctx context.Context) (bool, error) {
	r.mu.Lock()
	r.stats.Ticks++
	r.mu.Unlock()

	msg, err := r.router.DequeueOldest(ctx, r.id)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeMailboxFailure, err, "轮询信箱失败")
	}
	if msg == nil {
		return false, nil
	}

	logger.L().Info("收到新消息",
		slog.String("agent", r.id),
		slog.String("sender", msg.Sender),
	)

	reply := r.converse(ctx, msg.Rendered())
	r.classify(ctx, reply)
	r.trimMemory()

	r.mu.Lock()
	r.stats.MessagesProcessed++
	r.mu.Unlock()
	return true, nil
}

// converse 将一条输入送入决策引擎，执行期间产生的工具调用，并返回
// 最终的文本回复。决策引擎不可用时返回带 Exception: 前缀的文本，
// 由 classify 按协议落入审计日志。
func (r *Runtime) converse(ctx context.Context, input string) string {
	r.appendSegment(oracle.Message{Role: oracle.RoleUser, Content: input})

	catalog := actions.Catalog(r.enabled)
	for round := 0; round < r.maxToolRounds; round++ {
		reply, err := r.oracle.Decide(ctx, r.transcript(), catalog)
		if err != nil {
			r.mu.Lock()
			r.stats.OracleFailures++
			r.mu.Unlock()
			logger.L().Error("决策引擎调用失败",
				slog.String("agent", r.id),
				slog.Any("error", err),
			)
			return fmt.Sprintf("%s %v", exceptionMarker, err)
		}
		if len(reply.Calls) == 0 {
			r.extendSegment(oracle.Message{Role: oracle.RoleAssistant, Content: reply.Text})
			return reply.Text
		}

		r.extendSegment(oracle.Message{
			Role:      oracle.RoleAssistant,
			Content:   reply.Text,
			ToolCalls: reply.Calls,
		})
		for _, call := range reply.Calls {
			result := r.dispatcher.Dispatch(ctx, r.id, call)
			r.mu.Lock()
			r.stats.ToolCalls++
			r.mu.Unlock()
			r.extendSegment(oracle.Message{
				Role:       oracle.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	logger.L().Warn("工具调用轮数达到上限", slog.String("agent", r.id))
	return fmt.Sprintf("%s tool call budget exhausted", exceptionMarker)
}

// classify 按协议处理决策引擎的最终文本：异常与面向委托人的消息落
// 审计日志，疑似走错通道的消息触发一次纠偏提示。纠偏后的回复不再
// 二次分类。
func (r *Runtime) classify(ctx context.Context, reply string) {
	if strings.Contains(reply, exceptionMarker) {
		audit.Record(ctx, r.recorder, r.id, reply)
		return
	}

	if r.principalID != "" {
		if strings.Contains(strings.ToLower(reply), strings.ToLower("to "+r.principalID)) {
			audit.Record(ctx, r.recorder, r.id, reply)
			return
		}
		r.converse(ctx, assistantCorrection)
		return
	}

	if len(reply) >= 2 && !strings.Contains(strings.ToLower(reply), internalMessageMarker) {
		r.converse(ctx, providerCorrection)
	}
}

func (r *Runtime) appendSegment(msg oracle.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, []oracle.Message{msg})
}

func (r *Runtime) extendSegment(msg oracle.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.segments) == 0 {
		r.segments = append(r.segments, nil)
	}
	last := len(r.segments) - 1
	r.segments[last] = append(r.segments[last], msg)
}

// transcript 展平对话记忆，首条固定为人格系统提示。
func (r *Runtime) transcript() []oracle.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]oracle.Message, 0, 1+r.memoryDepth)
	if r.persona != "" {
		out = append(out, oracle.Message{Role: oracle.RoleSystem, Content: r.persona})
	}
	for _, seg := range r.segments {
		out = append(out, seg...)
	}
	return out
}

// trimMemory 按整段裁剪对话记忆。段是一次输入及其全部工具往返，
// 整段丢弃可以保证不会出现悬空的工具结果。
func (r *Runtime) trimMemory() {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, seg := range r.segments {
		total += len(seg)
	}
	for len(r.segments) > 1 && total > r.memoryDepth {
		total -= len(r.segments[0])
		r.segments = r.segments[1:]
	}
}
