package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/callx-bridge/internal/api"
	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/callx"
	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/metrics"
	"github.com/sweeney/callx-bridge/internal/payload"
	"github.com/sweeney/callx-bridge/internal/pending"
	"github.com/sweeney/callx-bridge/internal/publisher"
)

func main() {
	configPath := flag.String("config", "/etc/callx-bridge/callx-bridge.yaml", "Path to config file")
	var overrides config.Overrides
	flag.Var(&overrides, "set", "Override a config key (key=value, repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath, overrides...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := pending.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening pending store: %w", err)
	}
	defer store.Close()

	prefix := cfg.MQTT.TopicPrefix
	m := metrics.New()

	// The broker connection is opened before the service exists, so the
	// connect hooks wait for it.
	ready := make(chan struct{})
	var (
		svc *callx.Service
		pub *publisher.MQTTPublisher
	)

	pub, err = publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		QoS:         1,
		StatusTopic: prefix + "/status",
		OnConnect: func() {
			<-ready
			if err := svc.Register(ctx, newEventPublisher(pub, prefix)); err != nil {
				slog.Error("replaying pending events", "error", err)
			}
		},
		OnConnectionLost: func(error) {
			<-ready
			svc.Unregister()
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer pub.Close()

	svc = callx.New(cfg, store,
		callx.WithMetrics(m),
		callx.WithLogger(logger),
		callx.WithPresenter(&screenPublisher{pub: pub, prefix: prefix}),
		callx.WithCallLogger(&historyPublisher{pub: pub, prefix: prefix}),
	)
	close(ready)

	if err := pub.Subscribe(cfg.MQTT.PushTopic(), func(topic string, data []byte) {
		handlePush(ctx, svc, topic, data)
	}); err != nil {
		return err
	}
	slog.Info("listening for push payloads", "topic", cfg.MQTT.PushTopic())

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.NewServer(svc, api.WithMetricsHandler(m.Handler())),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTP.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	svc.Unregister()
	return nil
}

// handlePush feeds one inbound broker message through the service.
func handlePush(ctx context.Context, svc *callx.Service, topic string, data []byte) {
	doc, err := payload.Parse(data)
	if err != nil {
		slog.Warn("discarding push", "topic", topic, "error", err)
		return
	}

	out, err := svc.OnPayload(ctx, doc)
	switch {
	case errors.Is(err, call.ErrUnhandled):
		slog.Debug("push not handled", "topic", topic)
	case err != nil:
		slog.Error("push failed", "topic", topic, "event", out.Event, "applied", out.Applied, "error", err)
	}
}
