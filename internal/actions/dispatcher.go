package actions

import (
	"context"
	"log/slog"
	"time"

	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/ledger"
	"AgentPay-Chain/internal/mailbox"
	"AgentPay-Chain/internal/oracle"
	"AgentPay-Chain/pkg/logger"
)

// InvoiceService 是分发器依赖的开票能力。
type InvoiceService interface {
	Issue(ctx context.Context, req invoicing.IssueRequest) (string, *invoicing.Invoice)
	CheckStatus(ctx context.Context, invoiceID string, wait time.Duration) (string, error)
}

// PaymentService 是分发器依赖的链上支付能力。
type PaymentService interface {
	PerformPayment(ctx context.Context, recipientAddress string, amount float64, paymentReference string) (string, *ledger.PaymentTransaction)
}

// TradeRecorder 持久化一次协商产生的发票与支付记录。
type TradeRecorder interface {
	RecordInvoice(ctx context.Context, agentID string, inv *invoicing.Invoice) error
	RecordPayment(ctx context.Context, agentID string, tx *ledger.PaymentTransaction) error
}

// 返回给决策引擎的兜底文本。分发器从不向上抛错：协议回路没有结构化
// 的异常通道，决策引擎只能对文本做推理。
const (
	msgUnknownAction      = "the requested action could not be processed, verify the action name and its arguments"
	msgMessageNotSent     = "error in sending the message, the recipient mailbox is unreachable, try again later"
	msgInvoiceUnavailable = "invoice service is not available for this agent"
	msgPaymentUnavailable = "payment service is not available for this agent"
	msgStatusUnavailable  = "error in getting the invoice status, please try again later"
)

// Dispatcher 将决策引擎的工具调用分发到信箱、开票与账本服务。
type Dispatcher struct {
	router   mailbox.Router
	invoices InvoiceService
	payments PaymentService
	trades   TradeRecorder
}

// Option 定义分发器的可选依赖。
type Option func(*Dispatcher)

// WithInvoiceService 启用开票与状态查询动作。
func WithInvoiceService(svc InvoiceService) Option {
	return func(d *Dispatcher) { d.invoices = svc }
}

// WithPaymentService 启用链上支付动作。
func WithPaymentService(svc PaymentService) Option {
	return func(d *Dispatcher) { d.payments = svc }
}

// WithTradeRecorder 启用发票与支付结果的持久化。
func WithTradeRecorder(rec TradeRecorder) Option {
	return func(d *Dispatcher) { d.trades = rec }
}

// NewDispatcher 构造动作分发器。router 为必备依赖，其余按 Agent 的
// 角色选配：服务方挂开票服务，采购方挂支付服务。
func NewDispatcher(router mailbox.Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{router: router}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch 执行一次工具调用并返回结果文本。任何失败都转成可供决策
// 引擎推理的文本，绝不返回 error。
func (d *Dispatcher) Dispatch(ctx context.Context, agentID string, call oracle.ToolCall) string {
	action, err := Decode(call)
	if err != nil {
		logger.L().Warn("工具调用解析失败",
			slog.String("agent", agentID),
			slog.String("action", call.Name),
			slog.Any("error", err),
		)
		return msgUnknownAction
	}

	switch args := action.(type) {
	case SendMessageArgs:
		return d.sendMessage(ctx, agentID, args)
	case SendInvoiceArgs:
		return d.sendInvoice(ctx, agentID, args)
	case CheckInvoiceStatusArgs:
		return d.checkInvoiceStatus(ctx, agentID, args)
	case PerformPaymentArgs:
		return d.performPayment(ctx, agentID, args)
	default:
		return msgUnknownAction
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, agentID string, args SendMessageArgs) string {
	ack, err := d.router.Enqueue(ctx, mailbox.Message{
		Sender:    agentID,
		Recipient: args.RecipientID,
		Body:      args.Message,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.L().Warn("消息投递失败",
			slog.String("agent", agentID),
			slog.String("recipient", args.RecipientID),
			slog.Any("error", err),
		)
		return msgMessageNotSent
	}
	return ack
}

func (d *Dispatcher) sendInvoice(ctx context.Context, agentID string, args SendInvoiceArgs) string {
	if d.invoices == nil {
		return msgInvoiceUnavailable
	}
	text, inv := d.invoices.Issue(ctx, invoicing.IssueRequest{
		PayerEmail:   args.ClientEmail,
		PayerAddress: args.IdentityAddress,
		Currency:     args.Currency,
		Price:        args.Price,
		ServiceLabel: args.ServiceName,
		AutoPayment:  args.AutoPayment,
	})
	if inv != nil && d.trades != nil {
		if err := d.trades.RecordInvoice(ctx, agentID, inv); err != nil {
			// 持久化只服务于事后审计，不影响返回给决策引擎的结果。
			logger.L().Warn("发票记录持久化失败",
				slog.String("agent", agentID),
				slog.String("invoice_id", inv.ID),
				slog.Any("error", err),
			)
		}
	}
	return text
}

func (d *Dispatcher) checkInvoiceStatus(ctx context.Context, agentID string, args CheckInvoiceStatusArgs) string {
	if d.invoices == nil {
		return msgInvoiceUnavailable
	}
	wait := time.Duration(args.WaitSeconds * float64(time.Second))
	text, err := d.invoices.CheckStatus(ctx, args.ID, wait)
	if err != nil {
		logger.L().Warn("发票状态查询失败",
			slog.String("agent", agentID),
			slog.String("invoice_id", args.ID),
			slog.Any("error", err),
		)
		return msgStatusUnavailable
	}
	return text
}

func (d *Dispatcher) performPayment(ctx context.Context, agentID string, args PerformPaymentArgs) string {
	if d.payments == nil {
		return msgPaymentUnavailable
	}
	text, tx := d.payments.PerformPayment(ctx, args.RecipientAddress, args.AmountToPay, args.PaymentReference)
	if tx != nil && tx.Confirmed && d.trades != nil {
		if err := d.trades.RecordPayment(ctx, agentID, tx); err != nil {
			logger.L().Warn("支付记录持久化失败",
				slog.String("agent", agentID),
				slog.String("tx_hash", tx.TxHash),
				slog.Any("error", err),
			)
		}
	}
	return text
}
