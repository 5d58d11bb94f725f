package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"AgentPay-Chain/internal/actions"
	"AgentPay-Chain/internal/agent"
	"AgentPay-Chain/internal/api"
	"AgentPay-Chain/internal/audit"
	"AgentPay-Chain/internal/config"
	"AgentPay-Chain/internal/invoicing"
	"AgentPay-Chain/internal/ledger"
	"AgentPay-Chain/internal/mailbox"
	"AgentPay-Chain/internal/oracle"
	"AgentPay-Chain/internal/oracle/openai"
	"AgentPay-Chain/internal/scheduler"
	"AgentPay-Chain/internal/storage"
	"AgentPay-Chain/pkg/logger"
)

// main 是 AgentPay 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentpayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTPAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentpay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	router, recorder, err := createMailbox(cfg)
	if err != nil {
		return err
	}
	defer router.Close()

	trades, err := createTradeStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer trades.Close()

	oracleClient, err := createOracleClient(cfg)
	if err != nil {
		return err
	}

	definitions, err := ledger.LoadCurrencyDefinitions(cfg.Ledger.CurrencyFile)
	if err != nil {
		return err
	}
	currency, err := definitions.Lookup(cfg.Ledger.Currency)
	if err != nil {
		return err
	}

	var invoiceClient *invoicing.Client
	if cfg.Invoicing.BaseURL != "" {
		invoiceClient, err = invoicing.NewClient(invoicing.Config{
			BaseURL:           cfg.Invoicing.BaseURL,
			APIKey:            config.Secret(cfg.Invoicing.APIKeyEnv),
			PaymentAddress:    cfg.Invoicing.PaymentAddress,
			ReferenceStrategy: cfg.Invoicing.ReferenceStrategy,
			Poll: invoicing.PollPolicy{
				MaxAttempts: cfg.Invoicing.PollMaxAttempts,
				MaxWait:     time.Duration(cfg.Invoicing.PollMaxWaitSec) * time.Second,
			},
		})
		if err != nil {
			return err
		}
	}

	runtimes, err := buildAgents(ctx, cfg, router, recorder, oracleClient, invoiceClient, trades, currency)
	if err != nil {
		return err
	}

	sched := scheduler.New(time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second)
	for _, rt := range runtimes {
		if err := sched.Register(rt); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(cfg.Server.Address, runtimes, recorder, trades)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createMailbox 按驱动构造信箱路由与审计记录器。Redis 部署下两者共享
// 同一个连接，与网页监控端读取的 conversation_logs 保持一致。
func createMailbox(cfg *config.Config) (mailbox.Router, audit.Recorder, error) {
	switch cfg.Mailbox.Driver {
	case "redis":
		router, err := mailbox.NewRedisRouter(mailbox.RedisConfig{
			Address:  cfg.Mailbox.Redis.Addr,
			Password: config.Secret(cfg.Mailbox.Redis.PasswordEnv),
			DB:       cfg.Mailbox.Redis.DB,
		}, nil)
		if err != nil {
			return nil, nil, err
		}
		recorder := audit.NewRedisRecorder(router.Client())
		router.SetRecorder(recorder)
		return router, recorder, nil
	case "rabbitmq":
		recorder, err := createAuditRecorder(cfg)
		if err != nil {
			return nil, nil, err
		}
		router, err := mailbox.NewRabbitMQRouter(mailbox.RabbitMQConfig{
			URL: cfg.Mailbox.RabbitMQ.URL,
		}, recorder)
		if err != nil {
			return nil, nil, err
		}
		return router, recorder, nil
	case "memory":
		recorder := audit.NewMemoryRecorder(1024)
		return mailbox.NewMemoryRouter(recorder), recorder, nil
	default:
		return nil, nil, fmt.Errorf("未知的信箱驱动: %s", cfg.Mailbox.Driver)
	}
}

// createAuditRecorder 在信箱不走 Redis 时单独为审计日志建立 Redis 连接，
// 未配置 Redis 则退化为内存记录。
func createAuditRecorder(cfg *config.Config) (audit.Recorder, error) {
	if cfg.Mailbox.Redis.Addr == "" {
		return audit.NewMemoryRecorder(1024), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Mailbox.Redis.Addr,
		Password: config.Secret(cfg.Mailbox.Redis.PasswordEnv),
		DB:       cfg.Mailbox.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接审计日志 Redis 失败: %w", err)
	}
	return audit.NewRedisRecorder(client), nil
}

func createTradeStore(ctx context.Context, cfg *config.Config) (storage.TradeStore, error) {
	switch cfg.Storage.TradeStore.Driver {
	case "memory":
		return storage.NewMemoryTradeStore(), nil
	case "mysql":
		return storage.NewSQLTradeStore(ctx, cfg.Storage.TradeStore.DSN)
	default:
		return nil, fmt.Errorf("未知的交易存储驱动: %s", cfg.Storage.TradeStore.Driver)
	}
}

func createOracleClient(cfg *config.Config) (oracle.Client, error) {
	switch cfg.Oracle.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(config.Secret(cfg.Oracle.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("决策引擎需要通过环境变量 %s 提供 API Key", cfg.Oracle.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.Oracle.BaseURL,
			Model:       cfg.Oracle.Model,
			Temperature: cfg.Oracle.Temperature,
		})
	default:
		return nil, fmt.Errorf("未知的决策引擎 provider: %s", cfg.Oracle.Provider)
	}
}

// buildAgents 为每个配置的 Agent 装配动作分发器与运行时。
// 配置了钱包私钥的 Agent 获得支付能力，其余按动作集合裁剪。
func buildAgents(
	ctx context.Context,
	cfg *config.Config,
	router mailbox.Router,
	recorder audit.Recorder,
	oracleClient oracle.Client,
	invoiceClient *invoicing.Client,
	trades storage.TradeStore,
	currency ledger.CurrencyDefinition,
) ([]*agent.Runtime, error) {
	runtimes := make([]*agent.Runtime, 0, len(cfg.Agents))
	for _, agentCfg := range cfg.Agents {
		persona, err := agentCfg.ResolvePersona()
		if err != nil {
			return nil, err
		}

		enabled := make([]actions.Name, 0, len(agentCfg.Actions))
		for _, name := range agentCfg.Actions {
			enabled = append(enabled, actions.Name(name))
		}

		opts := []actions.Option{actions.WithTradeRecorder(trades)}
		if invoiceClient != nil {
			opts = append(opts, actions.WithInvoiceService(invoiceClient))
		}
		if agentCfg.WalletKeyEnv != "" {
			wallet, err := ledger.NewWalletSession(config.Secret(agentCfg.WalletKeyEnv), big.NewInt(currency.ChainID))
			if err != nil {
				return nil, fmt.Errorf("初始化 %s 的钱包失败: %w", agentCfg.ID, err)
			}
			ledgerClient, err := ledger.NewClient(ctx, currency, wallet)
			if err != nil {
				return nil, fmt.Errorf("初始化 %s 的账本客户端失败: %w", agentCfg.ID, err)
			}
			opts = append(opts, actions.WithPaymentService(ledgerClient))
		}

		rt, err := agent.NewRuntime(agent.Config{
			ID:          agentCfg.ID,
			PrincipalID: agentCfg.PrincipalID,
			Persona:     persona,
			Enabled:     enabled,
			Oracle:      oracleClient,
			Dispatcher:  actions.NewDispatcher(router, opts...),
			Router:      router,
			Recorder:    recorder,
			MemoryDepth: agentCfg.MemoryDepth,
		})
		if err != nil {
			return nil, err
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}
