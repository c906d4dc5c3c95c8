package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blogapi/internal/config"
	"blogapi/internal/pkg/logger"
	"blogapi/internal/pkg/mailqueue"
	"blogapi/internal/pkg/notify"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是邮件发送服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 加入 Redis Stream 消费者组并循环发送邮件
// 3. 启动 Metrics 服务
// 4. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	if !cfg.App.EnableMailQueue {
		appLogger.Warn("enable_mail_queue is off, the api sends mail in-process and this worker will stay idle")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("ping redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	consumer, err := mailqueue.NewConsumer(ctx, rdb, appLogger, cfg.App.MailStream, cfg.App.MailGroup, consumerID())
	if err != nil {
		appLogger.Error("init mail consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sender := notify.NewEmailSender(&cfg.Email, appLogger)
	if !sender.Configured() {
		appLogger.Warn("smtp not configured, mails will be acknowledged without sending")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				// 交给容器重启，保持状态干净
				appLogger.Error("PANIC in mail consumer loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()

		appLogger.Info("starting mail consumer loop",
			slog.String("stream", cfg.App.MailStream),
			slog.String("group", cfg.App.MailGroup),
			slog.String("dlq", consumer.DeadLetterStream()))
		if err := consumer.Run(ctx, sender); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("mail consumer loop stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	metricsAddr := ":2113"
	if v := os.Getenv("MAILER_METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		appLogger.Info("mailer metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down mailer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	select {
	case <-done:
		appLogger.Info("mailer stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("mail consumer did not stop in time")
	}
}

func consumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mailer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
