// Package actions 定义决策引擎可调用的动作目录。
//
// 动作目录是封闭集合：每个动作都有固定的名字、带类型的参数结构与
// 文本结果。新增动作必须同时扩展 Decode 与 Dispatcher 的分发逻辑。
package actions

import (
	"encoding/json"
	"fmt"

	"AgentPay-Chain/internal/oracle"
)

// Name 是动作的唯一标识，决策引擎通过名字发起调用。
type Name string

const (
	NameSendMessage        Name = "SendMessage"
	NameSendInvoice        Name = "SendInvoice"
	NameCheckInvoiceStatus Name = "CheckInvoiceStatus"
	NamePerformPayment     Name = "PerformPayment"
)

// Action 是所有动作参数结构的封闭联合。
type Action interface {
	ActionName() Name
}

// SendMessageArgs 向另一个 Agent 的信箱投递一条消息。
type SendMessageArgs struct {
	RecipientID string `json:"recipientID"`
	Message     string `json:"message"`
}

func (SendMessageArgs) ActionName() Name { return NameSendMessage }

// SendInvoiceArgs 按买方信息开具发票。
type SendInvoiceArgs struct {
	ClientEmail     string  `json:"clientInfo_Email"`
	IdentityAddress string  `json:"clientInfo_IdentityAddress"`
	Currency        string  `json:"currency"`
	Price           float64 `json:"price"`
	ServiceName     string  `json:"serviceName"`
	AutoPayment     bool    `json:"autoPayment"`
}

func (SendInvoiceArgs) ActionName() Name { return NameSendInvoice }

// CheckInvoiceStatusArgs 查询一张已开发票的当前状态。
type CheckInvoiceStatusArgs struct {
	ID          string  `json:"ID"`
	WaitSeconds float64 `json:"waitSeconds"`
}

func (CheckInvoiceStatusArgs) ActionName() Name { return NameCheckInvoiceStatus }

// PerformPaymentArgs 按支付引用执行一笔链上支付。
type PerformPaymentArgs struct {
	RecipientAddress string  `json:"recipient_address"`
	AmountToPay      float64 `json:"amount_to_pay"`
	PaymentReference string  `json:"paymentRefence"`
}

func (PerformPaymentArgs) ActionName() Name { return NamePerformPayment }

// Decode 将决策引擎返回的工具调用解析为带类型的动作参数。
// 未知动作名或参数格式错误都返回 error，由分发层转成文本反馈。
func Decode(call oracle.ToolCall) (Action, error) {
	switch Name(call.Name) {
	case NameSendMessage:
		var args SendMessageArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("解析 SendMessage 参数失败: %w", err)
		}
		return args, nil
	case NameSendInvoice:
		var args SendInvoiceArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("解析 SendInvoice 参数失败: %w", err)
		}
		return args, nil
	case NameCheckInvoiceStatus:
		var args CheckInvoiceStatusArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("解析 CheckInvoiceStatus 参数失败: %w", err)
		}
		return args, nil
	case NamePerformPayment:
		var args PerformPaymentArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("解析 PerformPayment 参数失败: %w", err)
		}
		return args, nil
	default:
		return nil, fmt.Errorf("未知的动作: %s", call.Name)
	}
}

// Catalog 按启用的动作集合生成决策引擎可见的工具目录。
// 描述文本是协议的一部分，决策引擎依据它们规划调用顺序。
func Catalog(enabled []Name) []oracle.ToolSchema {
	var schemas []oracle.ToolSchema
	for _, name := range enabled {
		if schema, ok := catalogSchemas[name]; ok {
			schemas = append(schemas, schema)
		}
	}
	return schemas
}

var catalogSchemas = map[Name]oracle.ToolSchema{
	NameSendMessage: {
		Name:        string(NameSendMessage),
		Description: "function to send a message asynchronously to another entity. the response will come asynchronously after processing by the recipient. the function returns an indication of success of the sending",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipientID": map[string]any{
					"type":        "string",
					"description": "Id or name of the recipient, it is case sensitive so please be carefull otherwise it will not work.",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "message to be transmitted to the recipient",
				},
			},
			"additionalProperties": false,
			"required":             []string{"recipientID", "message"},
		},
	},
	NameSendInvoice: {
		Name:        string(NameSendInvoice),
		Description: "Generate and send an invoice customized with buyer information. if the invoice is correctly created and sent, the function returns two different string depending on the autoPayment parameter: if autoPayment is False then it returns a string messsage containing an URL for payment to be sent to the client. If autoPayment is True it will  returns a payment reference that will allow the client to perform automated payment. In both case it returns the invoice ID to keep in order to check the status of the payment later. ",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"clientInfo_Email": map[string]any{
					"type":        "string",
					"description": "email adress of the client, mandatory information.",
				},
				"clientInfo_IdentityAddress": map[string]any{
					"type":        "string",
					"description": "wallet address identifying the client on chain, mandatory information. ask if not provided",
				},
				"currency": map[string]any{
					"type":        "string",
					"enum":        []string{"ETH-sepolia"},
					"description": "currenty of the transaction. only ETH-sepolia is supported for now. mandatory information. ask if not provided ",
				},
				"price": map[string]any{
					"type":        "number",
					"description": "amount in currency required to deliver the service. mandatory information. ask if not provided",
				},
				"serviceName": map[string]any{
					"type":        "string",
					"description": "very short string describing the provided custom service.",
				},
				"autoPayment": map[string]any{
					"type":        "boolean",
					"description": "set to True if the client ask for the payment reference. Otherwise, a URL for manual payment will be provided.",
				},
			},
			"additionalProperties": false,
			"required":             []string{"clientInfo_Email", "clientInfo_IdentityAddress", "currency", "price", "serviceName", "autoPayment"},
		},
	},
	NameCheckInvoiceStatus: {
		Name:        string(NameCheckInvoiceStatus),
		Description: "get the current status of an invoice according to its ID to be passed in input. the function returns a string explaining the current status. when an invoice is paid, the status will be indicated as such. for instant ouput may look like : 'current status of invoice ID 66c0f71820eb9ce52a59d009 is: paid'. an Open status means the invoice is awaiting payment call the function later for update.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ID": map[string]any{
					"type":        "string",
					"description": "ID of an invoice, obtained in the output string of the SendInvoice function",
				},
				"waitSeconds": map[string]any{
					"type":        "number",
					"description": "number of seconds to wait before querying the status, 5 is a sensible value. the check is performed once per call.",
				},
			},
			"additionalProperties": false,
			"required":             []string{"ID", "waitSeconds"},
		},
	},
	NamePerformPayment: {
		Name:        string(NamePerformPayment),
		Description: "function to pay an invoice with specific payment reference.  The function returns an indication of success of the payment",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient_address": map[string]any{
					"type":        "string",
					"description": "payment address of the receiver of the payment. It must be provided by the service provider.",
				},
				"amount_to_pay": map[string]any{
					"type":        "number",
					"description": "amount to pay for the service. it should be the numerical value of the required payment",
				},
				"paymentRefence": map[string]any{
					"type":        "string",
					"description": "payment reference that should be provided by the service provider.",
				},
			},
			"additionalProperties": false,
			"required":             []string{"recipient_address", "amount_to_pay", "paymentRefence"},
		},
	},
}
