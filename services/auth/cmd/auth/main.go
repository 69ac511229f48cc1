package main

import (
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"exammate/internal/util"
	"exammate/pkg/sms"
	"exammate/services/auth/internal/app"
	"exammate/services/auth/internal/config"
	"exammate/services/auth/internal/security"
	"exammate/services/auth/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	refreshTTL, err := config.ParseRefreshTTL(cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("failed to parse refresh TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse verify public keys: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		SessionTTL:          sessionTTL,
		RefreshTTL:          refreshTTL,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:    cfg.JWTPublicKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: verifyKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var sender sms.Sender
	if strings.EqualFold(cfg.SMSProvider, "aliyun") {
		sender, err = sms.NewAliyunSender(sms.AliyunConfig{
			AccessKeyID:     cfg.SMSAccessKeyID,
			AccessKeySecret: cfg.SMSAccessKeySecret,
			Endpoint:        cfg.SMSEndpoint,
			SignName:        cfg.SMSSignName,
			TemplateCode:    cfg.SMSTemplateCode,
		})
		if err != nil {
			log.Fatalf("failed to init sms sender: %v", err)
		}
	} else {
		sender = &sms.LogSender{}
	}

	httpServer, err := server.New(server.Config{
		App:              appCore,
		OTPRedisAddr:     cfg.RedisAddr,
		OTPRedisPassword: cfg.RedisPassword,
		SMS:              sender,
		Alerter:          security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, ""),

		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		OTPSendRateLimitPerMinute: cfg.OTPSendRateLimitPerMinute,
		SignupRateLimitPerMinute:  cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:   cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute: cfg.RefreshRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("auth server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
