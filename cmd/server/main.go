package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avelaz/genbridge/pkg/api"
	"github.com/avelaz/genbridge/pkg/auth"
	"github.com/avelaz/genbridge/pkg/broadcast"
	"github.com/avelaz/genbridge/pkg/config"
	"github.com/avelaz/genbridge/pkg/engine"
	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/metrics"
	"github.com/avelaz/genbridge/pkg/monitor"
	"github.com/avelaz/genbridge/pkg/registry"
	gbtls "github.com/avelaz/genbridge/pkg/tls"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.NewLogger(logging.ERROR, false).Fatal("invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat == "json")
	log.Info("starting genbridge", map[string]interface{}{
		"listen":     cfg.ListenAddr,
		"engine":     cfg.EngineURL,
		"event_mode": string(cfg.EventMode),
	})

	client := engine.NewClient(cfg.EngineURL, log)
	reg := registry.New()
	bus := broadcast.New()
	m := metrics.New(prometheus.DefaultRegisterer)

	newSource := func(ctx context.Context, jobID string) (engine.EventSource, error) {
		if cfg.EventMode == config.EventModePoll {
			return client.NewPollSource(ctx, jobID, cfg.PollInterval), nil
		}
		return client.SubscribeEvents(ctx)
	}
	mon := monitor.New(client, reg, bus, m, newSource, log)

	handler := api.NewHandler(client, reg, bus, mon, m, cfg, log)
	router := mux.NewRouter()
	// Label requests by route template, not raw path, to keep metric
	// cardinality bounded.
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The recorder the middleware wraps around the writer hides
			// http.Hijacker, which the websocket upgrade needs.
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			m.Middleware(route, next).ServeHTTP(w, r)
		})
	})
	handler.RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	guard, err := auth.NewGuard(cfg.APITokenHash)
	if err != nil {
		log.Fatal("invalid auth configuration", map[string]interface{}{"error": err.Error()})
	}
	if guard.Enabled() {
		log.Info("api token authentication enabled", nil)
	}

	// /health and /metrics stay open for probes and scrapers
	guarded := guard.Middleware(router)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			router.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: root,
		// No WriteTimeout: /ws connections and artifact streaming stay
		// open well past any sane request deadline.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	pruneCtx, cancelPrune := context.WithCancel(context.Background())
	go pruneLoop(pruneCtx, reg, cfg.RetainCompleted, log)

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			if cfg.TLSSelfSigned {
				if err := gbtls.EnsureSelfSigned(cfg.TLSCert, cfg.TLSKey, "genbridge"); err != nil {
					errCh <- err
					return
				}
			}
			tlsCfg, err := gbtls.ServerConfig(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				errCh <- err
				return
			}
			srv.TLSConfig = tlsCfg
			log.Info("listening with tls", map[string]interface{}{"addr": cfg.ListenAddr})
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Info("listening", map[string]interface{}{"addr": cfg.ListenAddr})
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("server failed", map[string]interface{}{"error": err.Error()})
	case sig := <-stop:
		log.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	cancelPrune()
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}

func pruneLoop(ctx context.Context, reg *registry.Registry, maxAge time.Duration, log *logging.Logger) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := reg.Prune(maxAge); removed > 0 {
				log.Info("pruned completed tasks", map[string]interface{}{"removed": removed})
			}
		}
	}
}
