// Package daemon wires the store, proxy client and HTTP API into a
// running server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
	"github.com/khang26042012/NexoraX-AI/internal/config"
	"github.com/khang26042012/NexoraX-AI/internal/history"
	"github.com/khang26042012/NexoraX-AI/internal/httpapi"
	"github.com/khang26042012/NexoraX-AI/internal/proxy"
	"github.com/khang26042012/NexoraX-AI/internal/validate"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Config config.Config

	// ConfigPath is watched for changes when set. Provider keys and
	// request settings are applied live; listen address and data dir
	// need a restart.
	ConfigPath string
	EnvFile    string

	Logger  *slog.Logger
	Version string
}

// StoreOptions maps the auth section of c onto file-backed store
// options rooted at c.DataDir.
func StoreOptions(c config.Config, lg *slog.Logger) authstore.Options {
	opt := authstore.FileOptions(c.DataDir)
	opt.Policy = authstore.Policy{
		SessionTTL:    c.Auth.SessionTTL,
		RememberTTL:   c.Auth.RememberTTL,
		AttemptWindow: c.Auth.AttemptWindow,
		MaxAttempts:   c.Auth.MaxAttempts,
	}
	opt.HashPasswords = c.Auth.HashPasswords
	opt.Logger = lg
	return opt
}

func providerKeys(c config.Config) map[string]string {
	return map[string]string{
		proxy.Gemini:  c.Proxy.Gemini.APIKey,
		proxy.SerpAPI: c.Proxy.SerpAPI.APIKey,
		proxy.LLM7:    c.Proxy.LLM7.APIKey,
	}
}

func proxyOptions(c config.Config, keys *proxy.Keys, version string) proxy.Options {
	return proxy.Options{
		Keys:        keys,
		Gemini:      proxy.Provider{BaseURL: c.Proxy.Gemini.BaseURL, Model: c.Proxy.Gemini.Model},
		SerpAPI:     proxy.Provider{BaseURL: c.Proxy.SerpAPI.BaseURL},
		LLM7:        proxy.Provider{BaseURL: c.Proxy.LLM7.BaseURL, Model: c.Proxy.LLM7.Model},
		Timeout:     c.Proxy.Timeout,
		LongTimeout: c.Proxy.LongTimeout,
		UserAgent:   "nexorax/" + version,
	}
}

// reloadOn re-reads the store's files each time sig fires.
func reloadOn(ctx context.Context, sig <-chan os.Signal, store *authstore.Store, lg *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			store.Reload()
			lg.Info("store reloaded", "users", len(store.Users()))
		}
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// the HTTP server down gracefully.
func Run(ctx context.Context, opt Options) error {
	c := opt.Config
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	dir, err := validate.DataDir(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := authstore.Open(StoreOptions(c, lg.With("component", "authstore")))
	if err != nil {
		return err
	}
	keys := proxy.NewKeys(providerKeys(c))
	for _, svc := range proxy.Services {
		if keys.Get(svc) == "" {
			lg.Warn("provider api key not configured", "service", svc)
		}
	}
	px := proxy.NewClient(proxyOptions(c, keys, opt.Version))
	hist := history.Open(c.HistoryPath())

	api := httpapi.New(c, store, px, hist, lg.With("component", "http"))
	api.Version = opt.Version
	defer api.Close()

	srv := &http.Server{
		Addr:              c.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		WriteTimeout:      c.Proxy.LongTimeout + 15*time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go store.RunSweeper(ctx, c.Auth.SweepInterval)

	// SIGHUP picks up accounts edited offline with "nexorax user".
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOn(ctx, hup, store, lg)

	if opt.ConfigPath != "" {
		go func() {
			err := config.Watch(ctx, opt.ConfigPath, opt.EnvFile, lg, func(nc config.Config) {
				if nc.Addr() != c.Addr() || nc.DataDir != c.DataDir {
					lg.Warn("listen address or data dir changed; restart to apply")
				}
				keys.Replace(providerKeys(nc))
				api.SetConfig(nc)
			})
			if err != nil {
				lg.Error("config watch stopped", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", "addr", srv.Addr, "tls", c.HTTP.TLS.CertPath != "", "data_dir", c.DataDir, "version", opt.Version)
		if c.HTTP.TLS.CertPath != "" {
			errCh <- srv.ListenAndServeTLS(c.HTTP.TLS.CertPath, c.HTTP.TLS.KeyPath)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if r := store.Sweep(); !r.Empty() {
		lg.Info("final sweep", "expired_sessions", r.ExpiredSessions, "orphaned_sessions", r.OrphanedSessions)
	}
	return nil
}
