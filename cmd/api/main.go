package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"scribly/internal/config"
	"scribly/internal/db"
	"scribly/internal/email"
	apihttp "scribly/internal/http"
	"scribly/internal/messaging"
	"scribly/internal/repository"
	"scribly/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

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
	nudgeLimiter := service.NewRedisNudgeRateLimiter(
		redisClient,
		time.Duration(cfg.NudgeWindowMinutes)*time.Minute,
		cfg.NudgeMaxPerWindow,
	)
	scribly := service.NewScribly(logger, database, messages, emailSender, emailBuilder, hasher, signer, nudgeLimiter, cfg.PasswordDenylist)

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		service.NewRedisRefreshTokenStore(redisClient),
	)

	authHandler := apihttp.NewAuthHandler(logger, scribly, jwtSvc)
	storyHandler := apihttp.NewStoryHandler(logger, scribly)
	router := apihttp.NewRouter(logger, jwtSvc, authHandler, storyHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
