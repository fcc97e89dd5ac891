/*
Package main is the entry point for the relaychat server.

It is responsible for loading configuration, initializing the global logging system,
building the TLS configuration, starting the relay server and the optional admin HTTP server,
and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"relaychat/internal/app/chat"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/tlsx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.ServerPort).
		Int("side_port", cfg.SidePort).
		Int("stream_port", cfg.StreamPort).
		Int("admin_port", cfg.AdminPort).
		Int("buffer_size", cfg.BufferSize).
		Int("max_users", cfg.MaxUsers).
		Int("max_online", cfg.MaxOnline).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded successfully")

	tlsConfig, err := buildTLS(cfg)
	if err != nil {
		logx.Fatal(err, "Failed to prepare TLS configuration")
	}

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := chat.NewServer(cfg, tlsConfig)
	if err != nil {
		logx.Fatal(err, "Relay server failed to start")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(gctx)
	})

	if cfg.AdminPort != 0 {
		admin := &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.AdminPort)),
			Handler:      handler.Router(&handler.AppDeps{Server: server, Config: cfg}),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		g.Go(func() error {
			logx.Info("Admin API starting", "addr", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()

			return admin.Shutdown(shutdownCtx)
		})
	}

	<-gctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	if err := g.Wait(); err != nil {
		logx.Fatal(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}

// buildTLS returns the server TLS configuration. Development falls back to a self-signed
// certificate when no key pair is configured.
func buildTLS(cfg *configs.AppConfig) (*tls.Config, error) {
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		return tlsx.LoadServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
	}

	bundle, err := tlsx.SelfSigned()
	if err != nil {
		return nil, err
	}
	logx.Warn("No TLS key pair configured. Using a self-signed development certificate.")
	return bundle.Server, nil
}
