// Package main provides the entry point for the gateway presence service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mediocregopher/radix/v4"

	"github.com/kestrelhq/wsgateway/gateway"
	"github.com/kestrelhq/wsgateway/gateway/jsoncodec"
	"github.com/kestrelhq/wsgateway/gateway/wscoder"
	"github.com/kestrelhq/wsgateway/gateway/wsgorilla"
	"github.com/kestrelhq/wsgateway/internal/api"
	"github.com/kestrelhq/wsgateway/internal/config"
	configstore "github.com/kestrelhq/wsgateway/internal/config/store"
	"github.com/kestrelhq/wsgateway/internal/manager"
	"github.com/kestrelhq/wsgateway/internal/relay/amqprelay"
	resumestore "github.com/kestrelhq/wsgateway/internal/store"
	"github.com/kestrelhq/wsgateway/internal/store/redisstore"
	"github.com/kestrelhq/wsgateway/internal/webhook"
	"github.com/kestrelhq/wsgateway/internal/ws"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

func main() {
	_ = godotenv.Load()

	logger := initLogger()
	port := getEnvOrDefault("PORT", "8080")
	webhookURL := os.Getenv("DISCORD_WEBHOOK_URL")

	webhookNotifier := webhook.NewNotifier(webhookURL, logger)
	if webhookNotifier != nil {
		slog.Info("Discord webhook notifications enabled")
	}

	store, pgStore := initStore()
	cfg, err := store.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Configuration loaded", "targets", len(cfg.Targets))

	hub := ws.NewHub(logger)
	go hub.Run()

	relay := initRelay(logger)
	mgr := initManager(store, hub, webhookNotifier, relay, logger)

	router := api.NewRouter(store, mgr, hub, logger)
	srv := createServer(port, router.Setup())

	go startManager(mgr)
	go startHTTPServer(srv, port)

	waitForShutdown()
	shutdown(srv, mgr, hub, pgStore, relay)
}

func initLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// initStore picks the configuration backend: Postgres when DATABASE_URL is
// set, otherwise a TOML or JSON file selected by CONFIG_PATH's extension.
func initStore() (config.ConfigStore, *configstore.Postgres) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		slog.Info("Using PostgreSQL for configuration storage")
		pgStore, err := configstore.NewPostgres(databaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		return pgStore, pgStore
	}

	configPath := getEnvOrDefault("CONFIG_PATH", "config.json")
	if filepath.Ext(configPath) == ".toml" {
		slog.Info("Using TOML file for configuration storage", "path", configPath)
		return configstore.NewTOML(configPath), nil
	}
	slog.Info("Using JSON file for configuration storage", "path", configPath)
	return configstore.NewFile(configPath), nil
}

// initResumeStore wires Redis-backed resume-hint persistence when
// REDIS_ADDR is set.
func initResumeStore() resumestore.ResumeStore {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client, err := (radix.PoolConfig{}).New(context.Background(), "tcp", addr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Using Redis for resume-hint storage", "addr", addr)
	return redisstore.New(client, "wsgateway:")
}

// initRelay wires the AMQP dispatch relay when AMQP_URL is set.
func initRelay(logger *slog.Logger) *amqprelay.Publisher {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		return nil
	}
	exchange := getEnvOrDefault("AMQP_EXCHANGE", "gateway")
	relay, err := amqprelay.New(url, exchange, logger)
	if err != nil {
		slog.Error("Failed to connect to AMQP broker", "error", err)
		os.Exit(1)
	}
	slog.Info("AMQP dispatch relay enabled", "exchange", exchange)
	return relay
}

// initTransport selects the WebSocket library: coder/websocket by default,
// gorilla/websocket when WS_TRANSPORT=gorilla. WS_ZSTD=1 enables zstd-stream
// transport compression (coder transport only).
func initTransport() gateway.WsTransport {
	if os.Getenv("WS_TRANSPORT") == "gorilla" {
		return &wsgorilla.Transport{}
	}
	return &wscoder.Transport{ZstdStream: os.Getenv("WS_ZSTD") == "1"}
}

// initCodec selects the payload codec: sonic by default, goccy/go-json
// when JSON_CODEC=goccy.
func initCodec() gateway.PayloadCodec {
	if os.Getenv("JSON_CODEC") == "goccy" {
		return jsoncodec.NewGoccy()
	}
	return jsoncodec.NewSonic()
}

func initManager(store config.ConfigStore, hub *ws.Hub, webhookNotifier *webhook.Notifier, relay *amqprelay.Publisher, logger *slog.Logger) *manager.Manager {
	gatewayURL := getEnvOrDefault("GATEWAY_URL", defaultGatewayURL)

	opts := manager.Options{
		Store:       store,
		ResumeStore: initResumeStore(),
		Transport:   initTransport(),
		Codec:       initCodec(),
		GatewayURL: func(ctx context.Context) (string, error) {
			return gatewayURL, nil
		},
		UserAgent: getEnvOrDefault("USER_AGENT", "wsgateway (https://github.com/kestrelhq/wsgateway, 1.0)"),
		Webhook:   webhookNotifier,
		Logger:    logger,
		OnStatusChange: func(targetID string, status manager.ConnectionStatus, message string) {
			hub.BroadcastStatus(targetID, string(status), message)
		},
	}
	if relay != nil {
		opts.Relay = relay
	}
	return manager.New(opts)
}

func createServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func startManager(mgr *manager.Manager) {
	if err := mgr.Start(); err != nil {
		slog.Error("Failed to start manager", "error", err)
	}
}

func startHTTPServer(srv *http.Server, port string) {
	slog.Info("Starting server", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func shutdown(srv *http.Server, mgr *manager.Manager, hub *ws.Hub, pgStore *configstore.Postgres, relay *amqprelay.Publisher) {
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr.Stop()
	hub.Stop()

	if relay != nil {
		if err := relay.Close(); err != nil {
			slog.Error("Failed to close AMQP relay", "error", err)
		}
	}
	if pgStore != nil {
		if err := pgStore.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
