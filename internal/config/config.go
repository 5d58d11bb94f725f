// Package config 解析启动配置。密钥一律通过环境变量名间接引用，
// 配置文件中绝不出现明文私钥或 API Key。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config 描述 AgentPay 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Mailbox   MailboxConfig   `json:"mailbox"`
	Oracle    OracleConfig    `json:"oracle"`
	Invoicing InvoicingConfig `json:"invoicing"`
	Ledger    LedgerConfig    `json:"ledger"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Agents    []AgentConfig   `json:"agents"`
}

// ServerConfig 控制监控接口的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// MailboxConfig 选择信箱后端。redis 与 rabbitmq 用于多进程部署，
// memory 仅用于单进程试运行。
type MailboxConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Addr        string `json:"addr"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
}

// RabbitMQConfig 描述 RabbitMQ 连接信息。
type RabbitMQConfig struct {
	URL string `json:"url"`
}

// OracleConfig 配置决策引擎的调用方式。
type OracleConfig struct {
	Provider    string  `json:"provider"`
	APIKeyEnv   string  `json:"api_key_env"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// InvoicingConfig 配置开票网络客户端。
type InvoicingConfig struct {
	BaseURL           string `json:"base_url"`
	APIKeyEnv         string `json:"api_key_env"`
	PaymentAddress    string `json:"payment_address"`
	ReferenceStrategy string `json:"reference_strategy"`
	PollMaxAttempts   int    `json:"poll_max_attempts"`
	PollMaxWaitSec    int    `json:"poll_max_wait_seconds"`
}

// LedgerConfig 配置链上结算。
type LedgerConfig struct {
	Currency     string `json:"currency"`
	CurrencyFile string `json:"currency_file"`
}

// StorageConfig 统一描述交易存储后端。
type StorageConfig struct {
	TradeStore TradeStoreConfig `json:"trade_store"`
}

// TradeStoreConfig 在 memory 与 mysql 之间选择交易存储实现。
type TradeStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// SchedulerConfig 控制信箱轮询周期。
type SchedulerConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// AgentConfig 描述一个 Agent 的身份与能力。
type AgentConfig struct {
	ID          string   `json:"id"`
	PrincipalID string   `json:"principal_id"`
	Persona     string   `json:"persona"`
	PersonaFile string   `json:"persona_file"`
	Actions     []string `json:"actions"`
	// WalletKeyEnv 指向保存钱包私钥的环境变量，仅支付方需要。
	WalletKeyEnv string `json:"wallet_key_env"`
	MemoryDepth  int    `json:"memory_depth"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Mailbox.Driver == "" {
		c.Mailbox.Driver = "redis"
	}
	if c.Mailbox.Redis.Addr == "" {
		c.Mailbox.Redis.Addr = "localhost:6379"
	}

	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "openai"
	}
	if c.Oracle.APIKeyEnv == "" {
		c.Oracle.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Invoicing.ReferenceStrategy == "" {
		c.Invoicing.ReferenceStrategy = "network"
	}

	if c.Ledger.Currency == "" {
		c.Ledger.Currency = "ETH-sepolia"
	}
	if c.Ledger.CurrencyFile != "" && !filepath.IsAbs(c.Ledger.CurrencyFile) {
		c.Ledger.CurrencyFile = filepath.Join(baseDir, c.Ledger.CurrencyFile)
	}

	if c.Storage.TradeStore.Driver == "" {
		c.Storage.TradeStore.Driver = "memory"
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = 3
	}

	for i := range c.Agents {
		if c.Agents[i].PersonaFile != "" && !filepath.IsAbs(c.Agents[i].PersonaFile) {
			c.Agents[i].PersonaFile = filepath.Join(baseDir, c.Agents[i].PersonaFile)
		}
	}
}

func (c *Config) validate() error {
	if len(c.Agents) == 0 {
		return errors.New("至少需要配置一个 Agent")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, agent := range c.Agents {
		id := strings.TrimSpace(agent.ID)
		if id == "" {
			return errors.New("Agent ID 不能为空")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("Agent ID 重复: %s", id)
		}
		seen[id] = struct{}{}
	}
	switch c.Mailbox.Driver {
	case "redis", "rabbitmq", "memory":
	default:
		return fmt.Errorf("不支持的信箱驱动: %s", c.Mailbox.Driver)
	}
	switch c.Storage.TradeStore.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("不支持的交易存储驱动: %s", c.Storage.TradeStore.Driver)
	}
	return nil
}

// ResolvePersona 返回 Agent 的系统提示词，文件内容优先于内联文本。
func (a AgentConfig) ResolvePersona() (string, error) {
	if a.PersonaFile == "" {
		return a.Persona, nil
	}
	content, err := os.ReadFile(a.PersonaFile)
	if err != nil {
		return "", fmt.Errorf("读取人格文件失败: %w", err)
	}
	return string(content), nil
}

// Secret 读取环境变量中的敏感信息，未设置时返回空串。
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
