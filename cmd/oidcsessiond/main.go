// Command oidcsessiond serves the session endpoints and, optionally, proxies
// authenticated requests to a backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lukaszraczylo/oidcsession"
	"github.com/lukaszraczylo/oidcsession/config"
	"github.com/lukaszraczylo/oidcsession/internal/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "oidcsessiond: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, nil)

	if missing := cfg.Missing(); len(missing) > 0 {
		log.Errorf("Missing required configuration: %s", strings.Join(missing, ", "))
		if cfg.IsProduction() {
			return errors.New("required configuration is missing")
		}
		log.Info("Continuing without authentication in a non-production environment")
		return serve(cfg, log, unconfigured(cfg))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	svc, err := oidcsession.New(ctx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	defer svc.Close()

	go reloadOnHangup(svc, log)
	return serve(cfg, log, svc.Routes())
}

// unconfigured answers the auth endpoints the way an unconfigured provider
// does, so a development frontend still loads.
func unconfigured(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Provider configuration not found"}` + "\n"))
	})
	mux.HandleFunc("GET /auth/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("null\n"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func reloadOnHangup(svc *oidcsession.Service, log logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := svc.ReloadRoles(); err != nil {
			log.Errorf("Role mapping reload failed: %v", err)
			continue
		}
		log.Info("Role mapping reloaded")
	}
}

func serve(cfg *config.Config, log logger.Logger, h http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
