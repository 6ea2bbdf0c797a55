// Command geolocate-eval trains a grid on a document snapshot and evaluates
// a ranking strategy on the held-out documents of the same snapshot.
//
// Usage:
//
//	GEOLOCATE_SNAPSHOT=docs.gob.zst go run ./cmd/geolocate-eval
//
// Configuration is read from the environment, optionally seeded from a .env
// file:
//
//	GEOLOCATE_SNAPSHOT      document snapshot (.zst, .lz4, .bz2 or plain gob)
//	GEOLOCATE_GRID          fixed (default) or adaptive
//	GEOLOCATE_DEGREES       tile size in degrees (default 1)
//	GEOLOCATE_CELL_KM       tile size in km, overrides GEOLOCATE_DEGREES
//	GEOLOCATE_WIDTH         multi-cell width (default 1)
//	GEOLOCATE_BUCKET        k-d bucket size (default 200)
//	GEOLOCATE_SPLIT_METHOD  halfway, median or max-margin
//	GEOLOCATE_BACKOFF       use every k-d node as a cell
//	GEOLOCATE_CUTOFF        k-d subdivision cutoff
//	GEOLOCATE_INTERPOLATE   k-d parent interpolation weight
//	GEOLOCATE_BIGRAMS       build bigram models
//	GEOLOCATE_MIN_COUNT     minimum term count in a cell
//	GEOLOCATE_STRATEGY      ranking strategy (default kl-divergence)
//	GEOLOCATE_EVAL_SPLIT    dev (default) or test
//	GEOLOCATE_SHARDS        parallel ingestion shards (default 1)
//	GEOLOCATE_PARALLELISM   parallel ranking workers (default 4)
//	GEOLOCATE_MAX_DOCS      training document budget
//	GEOLOCATE_MAX_DURATION  training time budget, e.g. 10m
//	LOG_LEVEL, LOG_FORMAT   debug|info|warn|error, text|json
//	METRICS_ADDR            serve Prometheus metrics on this address
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/andreiashu/geolocate"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load(".env")
	log := setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("evaluation failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger() *geolocate.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		return geolocate.NewJSONLogger(lvl)
	}
	return geolocate.NewTextLogger(lvl)
}

func run(ctx context.Context, log *geolocate.Logger) error {
	path := os.Getenv("GEOLOCATE_SNAPSHOT")
	if path == "" {
		return errors.New("GEOLOCATE_SNAPSHOT is not set")
	}

	metrics, err := setupMetrics(log)
	if err != nil {
		return err
	}
	opts, err := gridOptions()
	if err != nil {
		return err
	}
	opts = append(opts, geolocate.WithLogger(log), geolocate.WithMetrics(metrics))

	kind := geolocate.GridFixed
	if strings.EqualFold(os.Getenv("GEOLOCATE_GRID"), "adaptive") {
		kind = geolocate.GridAdaptive
	}
	evalSplit, err := geolocate.ParseSplit(envString("GEOLOCATE_EVAL_SPLIT", "dev"))
	if err != nil {
		return err
	}

	docs, err := geolocate.LoadDocuments(path)
	if err != nil {
		return err
	}
	var training, held []*geolocate.Document
	for _, d := range docs {
		switch d.Split {
		case geolocate.SplitTraining:
			training = append(training, d)
		case evalSplit:
			held = append(held, d)
		}
	}
	log.Info("snapshot loaded", "path", path, "training", len(training), "evaluation", len(held))

	g, err := geolocate.NewGrid(kind, opts...)
	if err != nil {
		return err
	}
	if shards := envInt("GEOLOCATE_SHARDS", 1); shards > 1 {
		_, err = geolocate.IngestSharded(ctx, g, training, shards)
	} else {
		budget := geolocate.Budget{
			MaxDocuments: envInt("GEOLOCATE_MAX_DOCS", 0),
			MaxDuration:  envDuration("GEOLOCATE_MAX_DURATION", 0),
		}
		_, err = geolocate.Ingest(ctx, g, slices.Values(training), budget)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := g.Close(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	strategy, err := geolocate.NewStrategy(envString("GEOLOCATE_STRATEGY", geolocate.StrategyKLDivergence), g, nil, geolocate.StrategyOptions{})
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(geolocate.StrategyNames, ", "))
	}
	acc, err := geolocate.Evaluate(ctx, g, geolocate.RankWith(strategy), held, envInt("GEOLOCATE_PARALLELISM", 4))
	if err != nil {
		return err
	}
	return acc.Report().WriteText(os.Stdout)
}

func gridOptions() ([]geolocate.Option, error) {
	opts := []geolocate.Option{
		geolocate.WithDegreesPerCell(envFloat("GEOLOCATE_DEGREES", 1)),
		geolocate.WithMultiCellWidth(envInt("GEOLOCATE_WIDTH", 1)),
		geolocate.WithBucketSize(envInt("GEOLOCATE_BUCKET", 200)),
		geolocate.WithBackoff(envBool("GEOLOCATE_BACKOFF")),
		geolocate.WithSubdivisionCutoff(envInt("GEOLOCATE_CUTOFF", 0)),
		geolocate.WithInterpolationWeight(envFloat("GEOLOCATE_INTERPOLATE", 0)),
		geolocate.WithBigrams(envBool("GEOLOCATE_BIGRAMS")),
		geolocate.WithMinTermCount(envInt("GEOLOCATE_MIN_COUNT", 0)),
	}
	if km := envFloat("GEOLOCATE_CELL_KM", 0); km > 0 {
		opts = append(opts, geolocate.WithCellSizeKm(km))
	}
	if s := os.Getenv("GEOLOCATE_SPLIT_METHOD"); s != "" {
		m, err := geolocate.ParseSplitMethod(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, geolocate.WithSplitMethod(m))
	}
	return opts, nil
}

// setupMetrics serves Prometheus metrics when METRICS_ADDR is set and keeps
// in-memory counters otherwise.
func setupMetrics(log *geolocate.Logger) (geolocate.MetricsCollector, error) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return &geolocate.BasicMetricsCollector{}, nil
	}
	reg := prometheus.NewRegistry()
	collector, err := geolocate.NewPrometheusCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return collector, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
