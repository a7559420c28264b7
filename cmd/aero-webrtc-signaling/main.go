package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/broker"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/sessionsvc"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-signaling",
		"listen_addr", cfg.ListenAddr,
		"sessionsvc_url", cfg.SessionSvcURL,
		"user_id_source", cfg.UserIDSource,
		"debug_no_auth", cfg.DebugNoAuth,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)
	if cfg.DebugNoAuth {
		logger.Warn("handshake authentication is DISABLED (DEBUG_NO_AUTH=true)")
	}

	m := metrics.New()

	svcClient := sessionsvc.NewClient(cfg.SessionSvcURL, sessionsvc.Options{
		ConnectTimeout:    cfg.SessionSvcConnectTimeout,
		ReadTimeout:       cfg.SessionSvcReadTimeout,
		CreateReadTimeout: cfg.SessionSvcCreateReadTimeout,
		RetryAttempts:     cfg.SessionSvcRetryAttempts,
		Logger:            logger,
	})

	gate := auth.NewGate(cfg)
	sig := broker.NewServer(broker.ServerOptions{
		Gate:              gate,
		Extractor:         auth.NewUserIDExtractor(cfg, gate.SessionVerifier()),
		Sessions:          broker.NewSessionManager(svcClient, logger),
		Metrics:           m,
		Logger:            logger,
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg.ListenAddr, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	srv.Mux().Handle("GET /", sig)
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
