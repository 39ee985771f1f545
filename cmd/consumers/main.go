package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"scribly/internal/config"
	"scribly/internal/consumers"
	"scribly/internal/db"
	"scribly/internal/email"
	"scribly/internal/messaging"
	"scribly/internal/repository"
	"scribly/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := redisClient.Ping(ctxPing).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}
	cancel()

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	database := repository.NewPgDatabase(pool)
	messages := messaging.NewRedisGateway(redisClient)
	emailBuilder := email.NewBuilder(cfg.SiteURL)
	hasher := service.NewPasswordHasher(cfg.BcryptCost)
	signer := service.NewTokenSigner(cfg.TokenSecret)
	scribly := service.NewScribly(logger, database, messages, emailSender, emailBuilder, hasher, signer, nil, cfg.PasswordDenylist)

	hostname, _ := os.Hostname()
	name := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	all := []*consumers.Consumer{
		consumers.New(logger, redisClient, messaging.StreamUserCreated, messaging.QueueEmailVerification, name, consumers.EmailVerificationHandler(scribly)),
		consumers.New(logger, redisClient, messaging.StreamTurnTaken, messaging.QueueTurnNotification, name, consumers.TurnNotificationHandler(scribly)),
		consumers.New(logger, redisClient, messaging.StreamCowritersAdded, messaging.QueueAddedToStory, name, consumers.AddedToStoryHandler(scribly)),
	}

	logger.Info("starting consumers", zap.Int("count", len(all)), zap.String("consumer", name))

	var wg sync.WaitGroup
	for _, consumer := range all {
		wg.Add(1)
		go func(c *consumers.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer stopped", zap.Error(err))
				stop()
			}
		}(consumer)
	}
	wg.Wait()
}
