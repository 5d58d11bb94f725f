// Package invoicing talks to the external invoicing network: it prepares
// invoice definitions, submits them, resolves payment references and checks
// settlement status on behalf of the agents.
package invoicing

import (
	"math/big"

	"github.com/google/uuid"
)

// Status 表示发票在结算流程中的状态。
type Status string

const (
	// StatusPending 表示发票已创建但尚未被开票网络接受。
	StatusPending Status = "pending"
	// StatusIssued 表示开票网络已接受发票并返回了标识。
	StatusIssued Status = "issued"
	// StatusOpen 表示发票等待支付。
	StatusOpen Status = "open"
	// StatusPaid 表示发票已完成支付，终态。
	StatusPaid Status = "paid"
	// StatusFailed 表示发票开具失败，终态。
	StatusFailed Status = "failed"
)

// Invoice 汇总一张发票在本系统内跟踪的全部信息。invoiceID 是唯一会
// 透露给交易对手的句柄。
type Invoice struct {
	ID               string `json:"id"`
	PayerEmail       string `json:"payer_email"`
	PayerAddress     string `json:"payer_address"`
	Currency         string `json:"currency"`
	AmountMinorUnits string `json:"amount_minor_units"`
	ServiceLabel     string `json:"service_label"`
	PaymentReference string `json:"payment_reference"`
	PayLink          string `json:"pay_link"`
	Status           Status `json:"status"`
}

// IssueRequest 描述一次开票动作的全部输入。
type IssueRequest struct {
	PayerEmail   string
	PayerAddress string
	Currency     string
	Price        float64
	ServiceLabel string
	AutoPayment  bool
}

const defaultServiceLabel = "AI Haiku Service"

// weiDecimals 是当前唯一支持的币种的最小单位精度。
var weiScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// AmountMinorUnits 将以整币为单位的价格换算为最小单位的十进制串，
// 即 round(price × 10^18)。
func AmountMinorUnits(price float64) string {
	scaled := new(big.Float).Mul(big.NewFloat(price), weiScale)
	scaled.Add(scaled, big.NewFloat(0.5))
	result, _ := scaled.Int(nil)
	return result.String()
}

// invoicePayload 对应开票网络 POST /invoices 的请求体。
type invoicePayload struct {
	PayerAddress   string      `json:"payerAddress"`
	ContentData    contentData `json:"contentdata"`
	PaymentAddress string      `json:"paymentAddress"`
	ExpectedAmount string      `json:"expectedAmount"`
	Currency       string      `json:"currency"`
}

type contentData struct {
	InvoiceItems  []invoiceItem `json:"invoiceItems"`
	InvoiceNumber string        `json:"invoiceNumber"`
	BuyerInfo     buyerInfo     `json:"buyerInfo"`
}

type invoiceItem struct {
	Currency  string `json:"currency"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type buyerInfo struct {
	Email string `json:"email"`
}

// buildPayload 组装开票请求体。发票号使用 UUID 保证全局唯一。
func buildPayload(req IssueRequest, paymentAddress string) invoicePayload {
	label := req.ServiceLabel
	if label == "" {
		label = defaultServiceLabel
	}
	amount := AmountMinorUnits(req.Price)
	return invoicePayload{
		PayerAddress: req.PayerAddress,
		ContentData: contentData{
			InvoiceItems: []invoiceItem{{
				Currency:  req.Currency,
				Name:      label,
				Quantity:  1,
				UnitPrice: amount,
			}},
			InvoiceNumber: uuid.NewString(),
			BuyerInfo:     buyerInfo{Email: req.PayerEmail},
		},
		PaymentAddress: paymentAddress,
		ExpectedAmount: amount,
		Currency:       req.Currency,
	}
}
