package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/freelancehub/payments-service/internal/config"
	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/lock"
	"github.com/freelancehub/payments-service/internal/logger"
	"github.com/freelancehub/payments-service/internal/model"
	"github.com/freelancehub/payments-service/internal/repo"
	"github.com/freelancehub/payments-service/internal/service"
	httptransport "github.com/freelancehub/payments-service/internal/transport/http"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.BankAccount{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. gateway adapters
	gateways := map[string]gateway.Adapter{
		"stripe":   gateway.NewStripe(cfg.Stripe.BaseURL, cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret),
		"paypal":   gateway.NewPayPal(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.WebhookID),
		"paystack": gateway.NewPaystack(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey),
	}

	// 7. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	walletSvc := service.NewWalletService(repository, log)
	paymentSvc := service.NewPaymentService(walletSvc, gateways, cfg.Currency.Default, log)
	withdrawalSvc := service.NewWithdrawalService(walletSvc, repository, gateways,
		lock.NewWithdrawalLocker(rdb), cfg.Currency.Default, log)
	webhookSvc := service.NewWebhookService(walletSvc, withdrawalSvc, gateways, log)
	accountSvc := service.NewBankAccountService(repository, gateways, cfg.Currency.Default, log)

	// 8. gin router
	handler := httptransport.NewHandler(walletSvc, paymentSvc, withdrawalSvc, webhookSvc, accountSvc)
	router := httptransport.NewRouter(handler, cfg.RateLimit, log)

	// 9. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("payments-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
