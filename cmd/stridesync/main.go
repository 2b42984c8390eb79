package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/stridesync/stridesync/internal/config"
	"github.com/stridesync/stridesync/internal/fitbit"
	"github.com/stridesync/stridesync/internal/hass"
	"github.com/stridesync/stridesync/internal/mcp"
	"github.com/stridesync/stridesync/internal/server"
	"github.com/stridesync/stridesync/internal/state"
	"github.com/stridesync/stridesync/internal/tracker"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	log.Info("StrideSync starting", "version", Version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Open state store
	db, err := state.Open(cfg.StateDir)
	if err != nil {
		log.Error("failed to open state db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tok, ok, err := db.LoadToken()
	if err != nil {
		log.Error("failed to load stored token", "error", err)
		os.Exit(1)
	}
	if !ok {
		log.Warn("no stored Fitbit credentials, visit /auth/login to authorize")
	}

	loginURL := fmt.Sprintf("http://%s:%d/auth/login", hostOrLocal(cfg.Server.Host), cfg.Server.Port)
	redirectURL := fmt.Sprintf("http://%s:%d/auth/callback", hostOrLocal(cfg.Server.Host), cfg.Server.Port)

	// Fitbit client stack
	oauthConf := fitbit.OAuthConfig(cfg.Fitbit.ClientID, cfg.Fitbit.ClientSecret, redirectURL)
	tokens := fitbit.NewTokenStore(oauthConf, tok, db, log)
	limiter := fitbit.NewRateLimiter(fitbit.DefaultQuota)
	fb := fitbit.NewClient(fitbit.DefaultBaseURL, tokens, limiter, log)

	// Home Assistant adapters
	ha := hass.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, log)
	socket := hass.NewSocket(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, log)

	reauth := &reauthNotifier{notifier: ha, loginURL: loginURL, log: log}

	tr := tracker.New(tracker.Config{
		StatusEntity:   cfg.Tracker.StatusEntity,
		DistanceEntity: cfg.Tracker.DistanceEntity,
		ActivityType:   fitbit.ActivityType(cfg.Tracker.ActivityType),
		StrideFeet:     cfg.Tracker.StrideFeet(),
		AutoSync:       cfg.Tracker.AutoSyncEnabled(),
		Notifications:  cfg.Tracker.NotificationsEnabled(),
	}, tracker.Deps{
		States:     ha,
		Subscriber: socket,
		Activities: fb,
		Notifier:   ha,
		Events:     ha,
		Reauth:     reauth,
		Watermark:  db,
		Log:        log,
	})

	if err := tr.Setup(); err != nil {
		log.Error("tracker setup failed", "error", err)
		os.Exit(1)
	}
	defer tr.Teardown()

	ctx := context.Background()
	socket.Start(ctx)
	defer socket.Stop()

	// Startup health check: verify the stored credentials still work.
	if ok {
		checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		profile, err := fb.Profile(checkCtx)
		cancel()
		switch {
		case err == nil:
			log.Info("Fitbit connection verified", "user", profile.DisplayName)
		case fitbit.IsAuthError(err):
			log.Warn("stored credentials rejected, re-authorization required")
			reauth.StartReauth(ctx)
		default:
			log.Warn("Fitbit health check failed", "error", err)
		}
	}

	if *mcpMode {
		log.Info("serving MCP over stdio")
		if err := mcpserver.ServeStdio(mcp.New(tr, Version, log)); err != nil {
			log.Error("mcp server error", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := server.New(tr, oauthConf, tokens, cfg.Server.APIKey, log)

	// Start server over tsnet or a plain listener
	var listener net.Listener
	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

func hostOrLocal(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}

// reauthNotifier surfaces an expired-credential condition as a persistent
// notification carrying the authorization URL.
type reauthNotifier struct {
	notifier tracker.Notifier
	loginURL string
	log      *slog.Logger
}

func (r *reauthNotifier) StartReauth(ctx context.Context) {
	msg := fmt.Sprintf("Fitbit authorization has expired. Visit %s to re-authorize.", r.loginURL)
	if err := r.notifier.Notify(ctx, "StrideSync", msg, "stridesync_reauth"); err != nil {
		r.log.Error("failed to deliver reauth notification", "error", err)
	}
}
