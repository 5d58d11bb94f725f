package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// ErrGenerateInvoice 是开票失败时返回给决策引擎的文本，措辞保持与既有
// 集成一致，引擎依赖它识别失败。
const ErrGenerateInvoice = "error in generating invoice, verify your data and try again"

// PollPolicy 约束状态轮询：每次查询前的最长等待以及单张发票的最大查询
// 次数。超出次数后返回的文本会要求决策引擎停止轮询并向对方求证。
type PollPolicy struct {
	MaxAttempts int
	MaxWait     time.Duration
}

// Config 描述开票网络客户端的构造参数。
type Config struct {
	BaseURL           string
	APIKey            string
	PaymentAddress    string
	ReferenceStrategy string
	Timeout           time.Duration
	Poll              PollPolicy
}

// Client 封装与开票网络的全部交互。
type Client struct {
	baseURL        string
	apiKey         string
	paymentAddress string
	strategy       ReferenceStrategy
	poll           PollPolicy
	httpClient     *http.Client

	mu       sync.Mutex
	attempts map[string]int
}

// NewClient 根据配置创建开票网络客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置开票网络地址")
	}
	if strings.TrimSpace(cfg.PaymentAddress) == "" {
		return nil, errors.New("未配置收款地址")
	}
	strategy, err := NewReferenceStrategy(cfg.ReferenceStrategy)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	poll := cfg.Poll
	if poll.MaxAttempts <= 0 {
		poll.MaxAttempts = 10
	}
	if poll.MaxWait <= 0 {
		poll.MaxWait = 30 * time.Second
	}
	return &Client{
		baseURL:        baseURL,
		apiKey:         cfg.APIKey,
		paymentAddress: cfg.PaymentAddress,
		strategy:       strategy,
		poll:           poll,
		httpClient:     &http.Client{Timeout: timeout},
		attempts:       make(map[string]int),
	}, nil
}

// PaymentAddress 返回收款地址，供动作层在回复文本中引用。
func (c *Client) PaymentAddress() string {
	return c.paymentAddress
}

// Issue 校验输入、开具发票并返回面向决策引擎的结果文本。
//
// 任何缺失的必填字段都以描述性文本返回而不造访开票网络；网络侧的拒绝
// 同样以文本返回。第二个返回值在成功时携带完整的发票信息。
func (c *Client) Issue(ctx context.Context, req IssueRequest) (string, *Invoice) {
	if strings.TrimSpace(req.PayerEmail) == "" {
		return "Email of the client is missing", nil
	}
	if strings.TrimSpace(req.PayerAddress) == "" {
		return "Identity address of the client is missing", nil
	}
	if strings.TrimSpace(req.Currency) == "" {
		return "Currency information is missing. value is commonly ETH", nil
	}
	if req.Price <= 0 {
		return "A service price in ETH is required", nil
	}

	payload := buildPayload(req, c.paymentAddress)
	payLink, invoiceID, reference, err := c.sendInvoice(ctx, payload)
	if err != nil {
		logger.L().Warn("开票请求失败", slog.Any("error", err))
		return ErrGenerateInvoice, nil
	}
	if invoiceID == "" {
		return ErrGenerateInvoice, nil
	}

	invoice := &Invoice{
		ID:               invoiceID,
		PayerEmail:       req.PayerEmail,
		PayerAddress:     req.PayerAddress,
		Currency:         req.Currency,
		AmountMinorUnits: payload.ExpectedAmount,
		ServiceLabel:     payload.ContentData.InvoiceItems[0].Name,
		PaymentReference: reference,
		PayLink:          payLink,
		Status:           StatusIssued,
	}

	if req.AutoPayment {
		text := fmt.Sprintf(
			"the client can use this payment Reference to perform payment: %s to the following address  %s. "+
				"ID of the invoice is %s and is only for you, you can use it to check the status of payment. "+
				"If user request or need to pay manually you can provide the following url : %s",
			reference, c.paymentAddress, invoiceID, payLink,
		)
		return text, invoice
	}
	text := fmt.Sprintf(
		"URL for payment to send to the client :  %s . ID of the invoice is %s to be used to check the status of payment",
		payLink, invoiceID,
	)
	return text, invoice
}

// createResponse 对应 POST /invoices 的成功响应体。
type createResponse struct {
	ID               string `json:"id"`
	PaymentReference string `json:"paymentReference"`
	InvoiceLinks     struct {
		SignUpAndPay string `json:"signUpAndPay"`
	} `json:"invoiceLinks"`
}

// sendInvoice 提交发票定义。开票网络以 4xx 拒绝时返回三个空值而非错误，
// 以便上层按"数据问题"而非"网络问题"处理；网络不可达才返回 error。
func (c *Client) sendInvoice(ctx context.Context, payload invoicePayload) (payLink, invoiceID, reference string, err error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", "", "", fmt.Errorf("序列化开票请求失败: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/invoices", bytes.NewReader(encoded))
	if err != nil {
		return "", "", "", xerrors.Wrap(xerrors.CodeInvoiceFailure, err, "开票网络不可达")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		logger.L().Warn("开票网络拒绝了发票",
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return "", "", "", nil
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", "", xerrors.New(xerrors.CodeInvoiceFailure,
			fmt.Sprintf("开票网络返回异常状态 %d", resp.StatusCode))
	}

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", "", "", fmt.Errorf("解析开票响应失败: %w", err)
	}
	if created.ID == "" {
		return "", "", "", nil
	}

	reference, err = c.strategy.Resolve(ctx, c, created)
	if err != nil {
		return "", "", "", xerrors.Wrap(xerrors.CodeInvoiceFailure, err, "解析支付引用失败")
	}

	payLink = created.InvoiceLinks.SignUpAndPay
	if payLink == "" {
		payLink = fmt.Sprintf("%s/invoices/%s", c.baseURL, created.ID)
	}
	return payLink, created.ID, reference, nil
}

// CheckStatus 在等待 wait 后查询一次发票状态并返回说明文本。
//
// 客户端自身不循环：是否再次查询由调用方的决策过程决定，但每张发票的
// 查询次数与单次等待时长都受 PollPolicy 约束。
func (c *Client) CheckStatus(ctx context.Context, invoiceID string, wait time.Duration) (string, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "发票 ID 不能为空")
	}

	if wait > c.poll.MaxWait {
		wait = c.poll.MaxWait
	}
	if wait > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}

	status, err := c.fetchStatus(ctx, invoiceID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.attempts[invoiceID]++
	attempts := c.attempts[invoiceID]
	c.mu.Unlock()

	if status != string(StatusPaid) && attempts >= c.poll.MaxAttempts {
		return fmt.Sprintf(
			"current status of invoice ID %s is: %s. status checks for this invoice are exhausted, "+
				"stop checking and ask your counterpart for an update instead", invoiceID, status), nil
	}
	return fmt.Sprintf(
		"current status of invoice ID %s is: %s. please wait 5 seconds before another status check, "+
			"operation may takes some times. if after few tries status is still open, you should ask for updates",
		invoiceID, status), nil
}

func (c *Client) fetchStatus(ctx context.Context, invoiceID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/invoices/"+invoiceID, nil)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvoiceFailure, err, "查询发票状态失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", xerrors.New(xerrors.CodeInvoiceFailure,
			fmt.Sprintf("查询发票状态返回异常状态 %d", resp.StatusCode))
	}
	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析发票状态失败: %w", err)
	}
	return decoded.Status, nil
}

// fetchRequestInput 获取早期协议推导引用所需的 requestId 与 salt。
func (c *Client) fetchRequestInput(ctx context.Context, invoiceID string) (requestID, salt string, err error) {
	resp, err := c.do(ctx, http.MethodGet, "/invoices/"+invoiceID+"?withRequest=true", nil)
	if err != nil {
		return "", "", xerrors.Wrap(xerrors.CodeInvoiceFailure, err, "查询发票详情失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", xerrors.New(xerrors.CodeInvoiceFailure,
			fmt.Sprintf("查询发票详情返回异常状态 %d", resp.StatusCode))
	}
	var decoded struct {
		RequestID string `json:"requestId"`
		Request   struct {
			RequestInput struct {
				Payment struct {
					Salt string `json:"salt"`
				} `json:"payment"`
			} `json:"requestInput"`
		} `json:"request"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", fmt.Errorf("解析发票详情失败: %w", err)
	}
	if decoded.RequestID == "" || decoded.Request.RequestInput.Payment.Salt == "" {
		return "", "", errors.New("发票详情缺少 requestId 或 salt")
	}
	return decoded.RequestID, decoded.Request.RequestInput.Payment.Salt, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("构建开票请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	return c.httpClient.Do(req)
}
