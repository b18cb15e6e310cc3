// Worker consumes violation events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, VIOLATION_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/askeywa/Immigration-V2-sub004/internal/config"
	"github.com/askeywa/Immigration-V2-sub004/internal/logger"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile, Service: "violation-worker"})
	defer func() { _ = log.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	client, err := loki.NewClient(cfg.LokiURL, "tenantguard")
	if err != nil {
		log.Fatal("worker: LOKI_URL is required", zap.Error(err))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.ViolationKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker: consuming violations",
		zap.String("topic", cfg.ViolationKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL),
	)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker: stopped")
				return
			}
			log.Warn("worker: kafka read error", zap.Error(err))
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushViolationJSON(pushCtx, msg.Value); err != nil {
			log.Warn("worker: loki push failed",
				zap.String("tenant", string(msg.Key)),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		cancel()
	}
}
