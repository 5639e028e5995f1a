package main

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haventalk/haven/internal/chat"
	"github.com/haventalk/haven/internal/server"
	"github.com/haventalk/haven/internal/transport"
)

func main() {
	// Load local .env (dev only).
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.Env)

	registry := chat.NewRegistry(logger)
	srv := server.New(cfg, logger, registry)

	listener, err := transport.ListenTCP(cfg.TCPAddr, cfg.MaxMessageSize)
	if err != nil {
		logger.Error("server.listen", "addr", cfg.TCPAddr, "err", err)
		os.Exit(1)
	}
	srv.Serve(listener)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("server.http.listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.http.crash", "err", err)
		}
	}()

	// Shutdown triggers: SIGINT/SIGTERM, or SHUTDOWN typed on the console.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		logger.Info("server.console.ready", "hint", "type SHUTDOWN to stop the server")
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == "SHUTDOWN" {
				close(console)
				return
			}
			logger.Info("server.console.hint", "hint", "type SHUTDOWN to stop the server")
		}
	}()

	select {
	case <-ctx.Done():
	case <-console:
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("server.shutdown.drain", "err", err)
	}

	httpCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	_ = httpSrv.Shutdown(httpCtx)

	logger.Info("server.exit")
}
