package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	groupapp "github.com/wyfcoding/groupbuy/internal/group/application"
	groupmessaging "github.com/wyfcoding/groupbuy/internal/group/infrastructure/messaging"
	groupmysql "github.com/wyfcoding/groupbuy/internal/group/infrastructure/persistence/mysql"
	lotapp "github.com/wyfcoding/groupbuy/internal/lot/application"
	lotmysql "github.com/wyfcoding/groupbuy/internal/lot/infrastructure/persistence/mysql"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	ordermessaging "github.com/wyfcoding/groupbuy/internal/order/infrastructure/messaging"
	ordermysql "github.com/wyfcoding/groupbuy/internal/order/infrastructure/persistence/mysql"
	settlementapp "github.com/wyfcoding/groupbuy/internal/settlement/application"
	walletapp "github.com/wyfcoding/groupbuy/internal/wallet/application"
	walletmysql "github.com/wyfcoding/groupbuy/internal/wallet/infrastructure/persistence/mysql"
	"github.com/wyfcoding/pkg/cache"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/lock"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
)

var (
	configPath = flag.String("config", "configs/sweeper/config.toml", "config file path")
	interval   = flag.Duration("interval", 5*time.Second, "sweep interval")
	leaseTTL   = flag.Duration("lease-ttl", 30*time.Second, "per-group lease duration")
	batchSize  = flag.Int("batch", 100, "max groups per status per sweep")
)

func main() {
	flag.Parse()

	// 1. 初始化配置
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	logger := logging.NewFromConfig(&logging.Config{
		Service:    cfg.Server.Name,
		Module:     "sweeper",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(logger.Logger)

	if err := idgen.Init(cfg.Snowflake); err != nil {
		slog.Error("failed to init id generator", "error", err)
		os.Exit(1)
	}

	// 3. 初始化指标
	metricsImpl := metrics.NewMetrics(cfg.Server.Name)
	if cfg.Metrics.Enabled {
		go metricsImpl.ExposeHTTP(cfg.Metrics.Port)
	}

	// 4. 初始化基础设施
	db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}

	redisCache, err := cache.NewRedisCache(&cfg.Data.Redis, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to init redis", "error", err)
		os.Exit(1)
	}
	locker := lock.NewRedisLock(redisCache.GetClient())

	outboxMgr := outbox.NewManager(db.RawDB(), logger.Logger)
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.MessageQueue.Kafka.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer writer.Close()
	processor := outbox.NewProcessor(outboxMgr, func(ctx context.Context, topic, key string, payload []byte) error {
		return writer.WriteMessages(ctx, kafkago.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: payload,
		})
	}, 100, 2*time.Second)
	processor.Start()
	defer processor.Stop()

	// 5. 仓储与应用服务
	groupRepo := groupmysql.NewGroupRepository(db.RawDB())
	memberRepo := groupmysql.NewGroupMemberRepository(db.RawDB())
	lotRepo := lotmysql.NewLotRepository(db.RawDB())
	reservationRepo := lotmysql.NewReservationRepository(db.RawDB())
	walletRepo := walletmysql.NewWalletRepository(db.RawDB())
	ledgerRepo := walletmysql.NewLedgerRepository(db.RawDB())
	orderRepo := ordermysql.NewOrderRepository(db.RawDB())

	walletSvc := walletapp.NewWalletService(walletRepo, ledgerRepo)
	shareSvc := lotapp.NewShareCounterService(lotRepo, reservationRepo)
	groupSvc := groupapp.NewGroupService(groupRepo, memberRepo)
	orderSvc := orderapp.NewOrderService(orderRepo, ordermessaging.NewOutboxEventPublisher(db.RawDB(), outboxMgr))
	groupPublisher := groupmessaging.NewOutboxEventPublisher(db.RawDB(), outboxMgr)

	sweeper := settlementapp.NewSweeper(groupSvc, groupRepo, memberRepo, orderSvc,
		walletSvc, shareSvc, groupPublisher, locker, settlementapp.Config{
			Interval:  *interval,
			LeaseTTL:  *leaseTTL,
			BatchSize: *batchSize,
		})

	// 6. 启动巡检并等待退出信号
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper.Start(ctx)
	slog.Info("settlement sweeper started",
		"interval", interval.String(), "lease_ttl", leaseTTL.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())
	sweeper.Stop()
}
