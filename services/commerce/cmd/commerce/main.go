package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"exammate/internal/usertoken"
	"exammate/internal/util"
	"exammate/services/commerce/internal/app"
	"exammate/services/commerce/internal/authclient"
	"exammate/services/commerce/internal/config"
	"exammate/services/commerce/internal/security"
	"exammate/services/commerce/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	authClient := authclient.NewClient(cfg.AuthURL)
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.JWKSURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:       cfg.DatabaseURL,
		RazorpayKeyID:     cfg.RazorpayKeyID,
		RazorpayKeySecret: cfg.RazorpayKeySecret,
		AMQPURL:           cfg.AMQPURL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer := server.New(server.Config{
		App:           appCore,
		Auth:          authClient,
		TokenVerifier: tokenVerifier,
		Alerter:       security.NewPaymentAlerter(cfg.AlertRedisAddr, cfg.AlertRedisPassword, ""),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("commerce server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
