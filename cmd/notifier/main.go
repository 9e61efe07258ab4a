package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	groupdomain "github.com/wyfcoding/groupbuy/internal/group/domain"
	"github.com/wyfcoding/groupbuy/internal/notification/interfaces/consumer"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/metrics"
)

var configPath = flag.String("config", "configs/notifier/config.toml", "config file path")

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
		Module:     "notifier",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(logger.Logger)

	metricsImpl := metrics.NewMetrics(cfg.Server.Name)

	handler := consumer.NewNotificationHandler(logger.Logger)

	// 3. 每个主题一个消费组实例，共用同一个 group_id
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := []string{
		orderdomain.TopicOrderPaid,
		groupdomain.TopicGroupSettled,
		groupdomain.TopicGroupRefunded,
	}
	consumers := make([]*kafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		topicCfg := cfg.MessageQueue.Kafka
		topicCfg.Topic = topic
		c := kafka.NewConsumer(&topicCfg, logger, metricsImpl)
		c.Start(ctx, 2, handler.Handle)
		consumers = append(consumers, c)
	}
	slog.Info("notification consumers started", "topics", topics)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())
	cancel()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close consumer", "error", err)
		}
	}
}
