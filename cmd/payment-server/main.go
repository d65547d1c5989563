package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"payment-core/internal/handler"
	"payment-core/internal/model"
	"payment-core/internal/server"
	"payment-core/internal/service"
	"payment-core/internal/service/conversion"
	"payment-core/internal/service/gasless"
	"payment-core/internal/service/mq"

	"payment-core/pkg/cache"
	"payment-core/pkg/config"
	"payment-core/pkg/database"
	"payment-core/pkg/lock"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/validator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// @title Payment Core API
// @version 1.0
// @description Gasless ERC-20 payment orchestration API
// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()

	// 初始化 Validator
	validator.Init()

	// 初始化监控指标 (业务指标注册在前，引擎和服务直接持有)
	monitor.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 开发环境自动建表，生产环境走 cmd/migrate
	if config.Global.App.Env == "development" {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("AutoMigrate 失败", zap.Error(err))
		}
	}

	// 3. 连接 Redis
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 4. 链路接入: RPC 只读 + Bundler 提交
	chainReader, err := gasless.NewEthChainReader(config.Global.Chain.RpcUrl)
	if err != nil {
		logger.Fatal("链 RPC 接入失败", zap.Error(err))
	}
	bundler, err := gasless.NewRPCBundlerClient(config.Global.Chain.BundlerUrl)
	if err != nil {
		logger.Fatal("Bundler 接入失败", zap.Error(err))
	}

	tokens := gasless.NewTokenRegistry(config.Global.Tokens)
	permitAllowance, err := decimal.NewFromString(config.Global.Chain.PermitAllowance)
	if err != nil {
		logger.Fatal("permit_allowance 配置非法", zap.Error(err))
	}

	engine := gasless.NewEngine(chainReader, bundler, gasless.EngineConfig{
		ChainID:         config.Global.Chain.ChainID,
		NetworkName:     config.Global.Chain.NetworkName,
		Paymaster:       common.HexToAddress(config.Global.Chain.PaymasterAddress),
		PermitAllowance: permitAllowance,
	}, monitor.Business)

	// 5. 汇率换算: Binance P2P (本地法币) + CMC + CoinGecko, Redis 缓存报价
	httpClient := &http.Client{Timeout: 10 * time.Second}
	convCfg := config.Global.Conversion
	convEngine := conversion.NewEngine(
		conversion.NewBinanceP2P(convCfg.P2PApiUrl, convCfg.LocalFiat, httpClient),
		conversion.NewCoinMarketCap(convCfg.CMCApiUrl, convCfg.CMCApiKey, httpClient),
		conversion.NewCoinGecko(convCfg.CoinGeckoApiUrl, httpClient),
		convCfg.LocalFiat,
		cache.NewRedisCache(rdb),
		time.Duration(convCfg.CacheTTLSeconds)*time.Second,
	)

	// 6. 业务服务
	wallets := service.NewWalletService(db)
	resolver := service.NewRecipientResolver(db)
	balances := service.NewBalanceService(chainReader, tokens)
	transactions := service.NewTransactionService(
		db, wallets, resolver, balances, engine, tokens,
		lock.NewRedisLock(rdb),
		config.Global.Chain.NetworkName,
		config.Global.Chain.ChainID,
	)
	invoices := service.NewInvoiceService(db, transactions, config.Global.Invoice.DefaultPaymentTermsDays)
	clients := service.NewClientService(db)

	// 7. 消息队列 + Outbox 中继
	var producer mq.Producer
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers)
	} else {
		logger.Info("使用 Redis Streams 作为消息队列...")
		producer = mq.NewRedisProducer(rdb)
	}
	relayService := service.NewRelayService(db, producer)
	go relayService.Start(context.Background())

	// 消费侧：终态事件转应用内通知。Kafka 部署时由独立边车消费，
	// redis streams 部署直接在进程内起消费组。
	if config.Global.Redis.MQType != "kafka" && config.Global.Redis.ConsumerGroup != "" {
		name, _ := os.Hostname()
		consumer := mq.NewRedisConsumer(rdb, config.Global.Redis.ConsumerGroup, name)
		service.NewNotificationService(db).Start(context.Background(), consumer)
	}

	// 8. HTTP Router
	r := server.NewHTTPRouter(server.Handlers{
		Wallet:      handler.NewWalletHandler(wallets, balances),
		Transaction: handler.NewTransactionHandler(transactions),
		Invoice:     handler.NewInvoiceHandler(invoices, clients),
		Conversion:  handler.NewConversionHandler(convEngine),
	})

	// 9. 运行 (阻塞)
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)
	app.Run()

	// 10. 退出后资源清理
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("系统已退出")
}
