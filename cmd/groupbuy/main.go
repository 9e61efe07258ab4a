package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	kafkago "github.com/segmentio/kafka-go"
	checkoutapp "github.com/wyfcoding/groupbuy/internal/checkout/application"
	checkouthttp "github.com/wyfcoding/groupbuy/internal/checkout/interfaces/http"
	groupapp "github.com/wyfcoding/groupbuy/internal/group/application"
	groupmysql "github.com/wyfcoding/groupbuy/internal/group/infrastructure/persistence/mysql"
	grouphttp "github.com/wyfcoding/groupbuy/internal/group/interfaces/http"
	lotapp "github.com/wyfcoding/groupbuy/internal/lot/application"
	lotmysql "github.com/wyfcoding/groupbuy/internal/lot/infrastructure/persistence/mysql"
	lothttp "github.com/wyfcoding/groupbuy/internal/lot/interfaces/http"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	ordermessaging "github.com/wyfcoding/groupbuy/internal/order/infrastructure/messaging"
	ordermysql "github.com/wyfcoding/groupbuy/internal/order/infrastructure/persistence/mysql"
	orderhttp "github.com/wyfcoding/groupbuy/internal/order/interfaces/http"
	walletapp "github.com/wyfcoding/groupbuy/internal/wallet/application"
	walletmysql "github.com/wyfcoding/groupbuy/internal/wallet/infrastructure/persistence/mysql"
	wallethttp "github.com/wyfcoding/groupbuy/internal/wallet/interfaces/http"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
	"github.com/wyfcoding/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/groupbuy/config.toml", "config file path")

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
		Module:     "groupbuy",
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

	// Auto Migrate (仅用于开发方便)
	if cfg.Server.Environment == "dev" {
		if err := db.RawDB().AutoMigrate(
			&walletmysql.WalletPO{}, &walletmysql.LedgerEntryPO{},
			&lotmysql.LotPO{}, &lotmysql.ReservationPO{},
			&groupmysql.GroupPO{}, &groupmysql.GroupMemberPO{},
			&ordermysql.OrderPO{},
			&outbox.Message{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// Outbox：事件随业务事务落库，由处理器异步推送 Kafka
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

	// 5. 初始化仓储
	walletRepo := walletmysql.NewWalletRepository(db.RawDB())
	ledgerRepo := walletmysql.NewLedgerRepository(db.RawDB())
	lotRepo := lotmysql.NewLotRepository(db.RawDB())
	reservationRepo := lotmysql.NewReservationRepository(db.RawDB())
	groupRepo := groupmysql.NewGroupRepository(db.RawDB())
	memberRepo := groupmysql.NewGroupMemberRepository(db.RawDB())
	orderRepo := ordermysql.NewOrderRepository(db.RawDB())

	orderPublisher := ordermessaging.NewOutboxEventPublisher(db.RawDB(), outboxMgr)

	// 6. 初始化应用服务
	walletSvc := walletapp.NewWalletService(walletRepo, ledgerRepo)
	shareSvc := lotapp.NewShareCounterService(lotRepo, reservationRepo)
	groupSvc := groupapp.NewGroupService(groupRepo, memberRepo)
	orderSvc := orderapp.NewOrderService(orderRepo, orderPublisher)
	orchestrator := checkoutapp.NewOrchestrator(shareSvc, walletSvc, orderSvc, groupSvc)

	// 7. 初始化接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestContextEnricher())
	r.Use(identityFromGateway())

	api := r.Group("")
	wallethttp.NewWalletHandler(walletSvc).RegisterRoutes(api)
	lothttp.NewLotHandler(shareSvc, lotRepo).RegisterRoutes(api)
	grouphttp.NewGroupHandler(groupSvc).RegisterRoutes(api)
	orderhttp.NewOrderHandler(orderSvc).RegisterRoutes(api)
	checkouthttp.NewCheckoutHandler(orchestrator).RegisterRoutes(api)

	// 8. 启动服务
	g, ctx := errgroup.WithContext(context.Background())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTP.Port),
		Handler: r,
	}
	g.Go(func() error {
		slog.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 9. 平滑退出
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-quit:
			slog.Info("shutting down", "signal", sig.String())
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// identityFromGateway 从网关注入的请求头读取已认证的用户身份。
func identityFromGateway() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			ctx := contextx.WithUserID(c.Request.Context(), userID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
