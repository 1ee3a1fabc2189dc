package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"AuraMCP/internal/api"
	"AuraMCP/internal/aura"
	"AuraMCP/internal/auth"
	"AuraMCP/internal/config"
	"AuraMCP/internal/events"
	"AuraMCP/internal/guard"
	"AuraMCP/internal/ledger"
	"AuraMCP/internal/observability/alerting"
	"AuraMCP/internal/observability/metrics"
	"AuraMCP/internal/strategy"
	"AuraMCP/internal/tools"
	"AuraMCP/internal/tx"
	"AuraMCP/internal/web3/provider"
	"AuraMCP/pkg/logger"
)

// main 是 AuraMCP 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("auramcpd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv(filepath.Join("configs", "auramcp.json"))
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	counter, err := createCounter(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer counter.Close()

	publisher, memPublisher, err := createPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	engine := guard.NewEngine(cfg.Guard, guard.WithUsageReader(counter))

	pipelineOpts := []tx.Option{
		tx.WithPaymentPolicy(paymentPolicy(cfg.Payment)),
		tx.WithVolumeRecorder(counter),
		tx.WithPublisher(publisher),
	}

	// 只有配置了链端点时才接入广播能力，否则 tx.execute 会明确报错。
	if strings.TrimSpace(cfg.Web3.RPCURL) != "" || strings.TrimSpace(cfg.Web3.ChainConfig) != "" {
		chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		defer chainRegistry.Close()

		web3Client, err := chainRegistry.DefaultClient()
		if err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts,
			tx.WithBroadcaster(web3Client),
			tx.WithGasSuggester(web3Client),
		)
	}

	pipeline := tx.NewPipeline(engine, pipelineOpts...)

	auraClient := aura.NewClient(aura.Config{
		APIURL:  cfg.Aura.APIURL,
		APIKey:  cfg.Aura.APIKey,
		Timeout: time.Duration(cfg.Aura.TimeoutSeconds) * time.Second,
	})

	planner := strategy.NewPlanner(auraClient, cfg.Aura.Address)
	service := tools.NewService(engine, pipeline, planner, auraClient, publisher)

	// 内存事件通道由告警观察者消费；外部队列则交给下游系统。
	if memPublisher != nil {
		dispatcher := alerting.NewFanout(&alerting.LogNotifier{})
		go alerting.Watch(ctx, memPublisher.Events(), dispatcher)
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务退出", "error", err)
			}
		}()
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}

	serverOpts := []api.ServerOption{}
	if authService.Enabled() {
		serverOpts = append(serverOpts, api.WithMiddleware(authService.Middleware()))
	}

	server := api.NewServer(cfg.Server.Address, service.Registry(), serverOpts...)

	logger.L().Info("auramcpd 启动", "address", cfg.Server.Address, "tools", service.Registry().Names())
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createCounter 按配置选择当日用量计数器的后端。
func createCounter(ctx context.Context, cfg config.LedgerConfig) (ledger.Counter, error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewMemoryCounter(), nil
	case "redis":
		return ledger.NewRedisCounter(ledger.RedisCounterConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "mysql":
		return ledger.NewMySQLCounter(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的计数器驱动: %s", cfg.Driver)
	}
}

// createPublisher 按配置选择事件发布后端。内存后端同时返回
// 具体类型，便于在进程内消费事件流。
func createPublisher(cfg config.EventsConfig) (events.Publisher, *events.MemoryPublisher, error) {
	switch cfg.Driver {
	case "", "memory":
		pub := events.NewMemoryPublisher(256)
		return pub, pub, nil
	case "rabbitmq":
		pub, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.URL,
			Queue:   cfg.Queue,
			Durable: true,
		})
		if err != nil {
			return nil, nil, err
		}
		return pub, nil, nil
	default:
		return nil, nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}

// paymentPolicy 在默认策略之上套用配置覆盖。
func paymentPolicy(cfg config.PaymentConfig) tx.PaymentPolicy {
	policy := tx.DefaultPaymentPolicy()
	if cfg.ThresholdUSD > 0 {
		policy.ThresholdUSD = cfg.ThresholdUSD
	}
	if cfg.Amount != "" {
		policy.Amount = cfg.Amount
	}
	if cfg.Asset != "" {
		policy.Asset = cfg.Asset
	}
	if cfg.Receiver != "" {
		policy.Receiver = cfg.Receiver
	}
	if cfg.Description != "" {
		policy.Description = cfg.Description
	}
	return policy
}
