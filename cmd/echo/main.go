// Package main runs a WebSocket echo server on ripple.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FumingPower3925/ripple/pkg/ripple"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", "", "listen address, overrides the config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address of the Prometheus endpoint, empty to disable")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	config := ripple.DefaultConfig()
	if *configPath != "" {
		if config, err = ripple.LoadConfig(*configPath); err != nil {
			logger.Fatal("load config", zap.Error(err))
		}
	}
	if *addr != "" {
		config.Addr = *addr
	}
	config.Logger = logger

	server := ripple.New(config).
		Handler(echoHandler(logger)).
		Use(
			ripple.Recovery(),
			ripple.Logger(),
			ripple.Prometheus(),
			ripple.Tracing(),
		)

	var metrics *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	if err := server.Start(); err != nil {
		logger.Fatal("start server", zap.Error(err))
	}
	logger.Info("echo server listening",
		zap.String("addr", config.Addr),
		zap.String("path", config.Path),
		zap.String("metrics", *metricsAddr))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("stop server", zap.Error(err))
	}
	if metrics != nil {
		_ = metrics.Shutdown(ctx)
	}
}

// echoHandler sends every text and binary frame back to its sender.
func echoHandler(logger *zap.Logger) ripple.Handler {
	return ripple.HandlerFuncs{
		Open: func(ws *ripple.Websocket) {
			logger.Debug("open", zap.Uint64("conn_id", ws.ID()), zap.Stringer("remote", ws.RemoteAddr()))
		},
		Message: func(_ context.Context, ws *ripple.Websocket, msg ripple.Message) error {
			switch msg.Opcode {
			case ripple.OpText, ripple.OpBinary:
				return ws.SendMessage(msg.Opcode, msg.Payload)
			}
			return nil
		},
		Close: func(ws *ripple.Websocket, reason string) {
			logger.Debug("close", zap.Uint64("conn_id", ws.ID()), zap.String("reason", reason))
		},
	}
}
