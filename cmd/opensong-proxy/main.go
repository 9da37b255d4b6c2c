// opensong-proxy bridges many downstream websocket/HTTP clients onto a
// single upstream OpenSong presentation connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensong/ws-proxy/internal/config"
	"github.com/opensong/ws-proxy/internal/metrics"
	"github.com/opensong/ws-proxy/internal/ratelimit"
	"github.com/opensong/ws-proxy/internal/server"
	"github.com/opensong/ws-proxy/internal/upstream"
	"github.com/opensong/ws-proxy/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "opensong-proxy: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	mx := metrics.NewCollector()

	client := upstream.New(upstream.Config{
		Host:       cfg.OpenSongHost,
		Port:       cfg.OpenSongPort,
		BackoffMin: time.Duration(cfg.BackoffMinMs) * time.Millisecond,
		BackoffMax: time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
	}, mx)

	rl := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:                 true,
		MaxConnectionsPerIP:     cfg.MaxConnectionsPerIP,
		MaxConnectionsPerMinute: cfg.MaxConnectionsPerIP * 4,
		BanDurationSeconds:      300,
		CleanupIntervalSeconds:  60,
	})

	srv := server.New(server.Config{
		Host:                cfg.ProxyHost,
		Port:                cfg.ProxyPort,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
		Namespace:           "opensong_proxy",
	}, client, mx, rl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go client.Run(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("server: %v", err)
			cancel()
		}
	}()

	<-sigCh
	logger.Info("opensong-proxy: shutting down")

	cancel()
	client.Stop()
	srv.Stop()

	logger.Info("opensong-proxy: shutdown complete")
}
