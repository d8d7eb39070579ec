package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/SnapPrice/PriceBox/config"
	"github.com/SnapPrice/PriceBox/internal/queue"
	"github.com/SnapPrice/PriceBox/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	scheduler *scheduler.Scheduler
	queue     *queue.Queue
	cfg       *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.scheduler == nil || opts.queue == nil {
			_, _ = w.Write([]byte(`{"error":"worker not wired"}`))
			return
		}
		schedStats, err := opts.scheduler.Stats(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"scheduler": schedStats,
			"queue":     opts.queue.Stats(),
		})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational worker settings.
		out := map[string]any{
			"schedulerTickSeconds":        opts.cfg.PriceBox.SchedulerTickSeconds,
			"schedulerBatchSize":          opts.cfg.PriceBox.SchedulerBatchSize,
			"queueConcurrency":            opts.cfg.PriceBox.QueueConcurrency,
			"queueMaxAttempts":            opts.cfg.PriceBox.QueueMaxAttempts,
			"queueBackoffBaseMs":          opts.cfg.PriceBox.QueueBackoffBaseMs,
			"rateLimitPerMinute":          opts.cfg.PriceBox.RateLimitPerMinute,
			"marketplaceRatePerMinute":    opts.cfg.PriceBox.MarketplaceRatePerMinute,
			"renderPreferredMarketplaces": opts.cfg.PriceBox.RenderPreferredMarketplaces,
			"browserPoolSize":             opts.cfg.PriceBox.BrowserPoolSize,
			"navigationTimeoutSeconds":    opts.cfg.PriceBox.NavigationTimeoutSecs,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.scheduler == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		opts.scheduler.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Post("/scrape-now/{itemID}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.scheduler == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		id, err := strconv.ParseUint(chi.URLParam(r, "itemID"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "itemID must be a positive integer"})
			return
		}
		if err := opts.scheduler.ScrapeNow(r.Context(), id); err != nil {
			if errors.Is(err, scheduler.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"enqueued": true, "itemId": id})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger is optional for the worker; mount it only when the file is
	// present, with no-cache plus a cachebuster.
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})

			swaggerURL := "/swagger.json"
			if fi, err := os.Stat(opts.swaggerPath); err == nil {
				swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
			}
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
		}
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
