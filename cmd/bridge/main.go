package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crestview/portalbridge/internal/api"
	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/config"
	"github.com/crestview/portalbridge/internal/controller"
	"github.com/crestview/portalbridge/internal/netutil"
	"github.com/crestview/portalbridge/internal/portal"
	"github.com/crestview/portalbridge/internal/session"
	"github.com/crestview/portalbridge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load bridge config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("bridge config loaded",
		"bind_addr", cfg.BindAddr,
		"headless", cfg.Headless,
		"db_path", cfg.DBPath,
		"session_ttl", cfg.SessionTTL,
		"login_timeout", cfg.LoginTimeout,
		"log_level", cfg.LogLevel,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath, cfg.SessionTTL)
	if err != nil {
		slog.Error("failed to open session store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	profile := portal.Default()
	launcher := browser.NewChromeLauncher(browser.LaunchOptions{
		CDPAddress: cfg.CDPAddress,
		DataDir:    cfg.DataDir,
		UserAgent:  profile.UserAgent,
		WindowSize: cfg.WindowSize,
	})

	manager := session.NewManager(launcher, profile, st, session.Config{
		LoginTimeout: cfg.LoginTimeout,
		Settle:       cfg.Settle,
		Grace:        cfg.Grace,
		NavTimeout:   cfg.NavTimeout,
		Headless:     cfg.Headless,
	})

	svc := controller.NewService(controller.Options{
		Manager:     manager,
		Store:       st,
		Profile:     profile,
		Credentials: session.Credentials{Email: cfg.PortalEmail, Password: cfg.PortalPassword},
		HTTPTimeout: cfg.HTTPTimeout,
	})
	h := api.NewServer(svc)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, []string{"127.0.0.1:8421", "127.0.0.1:8422"}, true)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	stopCleanup := startCleanup(st, cfg.CleanupInterval)
	defer stopCleanup()

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("bridge listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("bridge server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("bridge shutdown failed", "error", err)
	}
}

// startCleanup runs the expired-session sweep on a fixed interval until the
// returned stop function is called.
func startCleanup(st *store.Store, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				removed, err := st.CleanupExpired(context.Background())
				if err != nil {
					slog.Warn("session cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("expired sessions removed", "count", removed)
				}
			}
		}
	}()
	return func() { close(done) }
}

func setupLogger(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
