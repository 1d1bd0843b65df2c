package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/crypto-bench/config"
	"github.com/vnmchuo/crypto-bench/internal/dataset"
	"github.com/vnmchuo/crypto-bench/internal/eval"
	"github.com/vnmchuo/crypto-bench/internal/provider"
	"github.com/vnmchuo/crypto-bench/internal/provider/claude"
	"github.com/vnmchuo/crypto-bench/internal/provider/echo"
	"github.com/vnmchuo/crypto-bench/internal/provider/gemini"
	"github.com/vnmchuo/crypto-bench/internal/provider/openai"
	"github.com/vnmchuo/crypto-bench/internal/results"
	"github.com/vnmchuo/crypto-bench/internal/retry"
	"github.com/vnmchuo/crypto-bench/internal/router"
	"github.com/vnmchuo/crypto-bench/internal/status"
	"github.com/vnmchuo/crypto-bench/internal/telemetry"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

// RunCmd evaluates one model on one dataset.
// Usage: bench run --dataset cipherbank --model gemini-2.5-flash-lite --limit 20
type RunCmd struct {
	Dataset    string `short:"d" long:"dataset" description:"dataset to evaluate" choice:"cybermetric" choice:"cipherbank" choice:"cipherbench" required:"true"`
	Model      string `short:"m" long:"model" description:"model name, e.g. echo, gemini-2.5-flash-lite, gpt-oss-20b" required:"true"`
	Limit      int    `short:"n" long:"limit" description:"evaluate at most N items (0 for all)"`
	Out        string `short:"o" long:"out" description:"results file (default <results-dir>/<dataset>__<model>.jsonl)"`
	DataDir    string `long:"data-dir" description:"dataset directory (default DATA_DIR or ./datasets)"`
	StatusAddr string `long:"status-addr" description:"serve progress over HTTP on this address (default STATUS_ADDR)"`
	MaxTokens  int    `long:"max-tokens" description:"generation limit (0 keeps the model default)"`
}

func (c *RunCmd) Execute(_ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	entry, err := dataset.Lookup(c.Dataset)
	if err != nil {
		return err
	}
	providerName, ok := router.ProviderFor(c.Model)
	if !ok {
		return fmt.Errorf("%w: %s", router.ErrUnknownModel, c.Model)
	}
	client, err := newClient(providerName, cfg)
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer("crypto-bench", cfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer()

	dataDir := firstNonEmpty(c.DataDir, cfg.DataDir)
	items, err := entry.LoadFile(dataDir)
	if err != nil {
		return err
	}
	if c.Limit > 0 && c.Limit < len(items) {
		items = items[:c.Limit]
	}

	key := ratelimit.Key{Provider: providerName, Model: c.Model}
	limits, err := cfg.RateLimitsFor(key)
	if err != nil {
		return err
	}
	limiter := ratelimit.NewLimiter(limits, ratelimit.SystemClock{})
	asker := retry.NewAsker(limiter, ratelimit.SystemClock{}, cfg.Retry, otel.Tracer("crypto-bench"))
	rt := router.New([]provider.Client{client}, asker, router.BreakerSettings{
		Threshold: cfg.BreakerThreshold,
		Timeout:   cfg.BreakerTimeout,
	})
	if _, err := rt.Route(c.Model); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outPath := firstNonEmpty(c.Out, defaultOutPath(cfg.ResultsDir, c.Dataset, c.Model))
	jsonl, err := results.CreateJSONL(outPath)
	if err != nil {
		return err
	}
	defer closeLogged(outPath, jsonl)

	sinks, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()
	sinks = append(results.MultiSink{jsonl}, sinks...)

	runID := uuid.NewString()
	summary := results.NewSummary()

	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	var g errgroup.Group
	if addr := firstNonEmpty(c.StatusAddr, cfg.StatusAddr); addr != "" {
		srv := status.NewServer(status.Run{
			ID:        runID,
			Dataset:   c.Dataset,
			Model:     c.Model,
			Provider:  providerName,
			Items:     len(items),
			StartedAt: time.Now(),
		}, summary, limiter, rt.State)
		g.Go(func() error { return srv.ListenAndServe(statusCtx, addr) })
	}

	log.Printf("[eval] run %s: %d %s items with %s (%s)", runID, len(items), c.Dataset, c.Model, providerName)
	runner := &eval.Runner{
		Driver:  eval.NewDriver(rt, entry.Adapter),
		Adapter: entry.Adapter,
		Sink:    sinks,
		Summary: summary,
		RunID:   runID,
	}
	totals, runErr := runner.Run(ctx, items, client, provider.Request{Model: c.Model, MaxTokens: c.MaxTokens})

	stopStatus()
	if err := g.Wait(); err != nil {
		log.Printf("[status] %v", err)
	}

	printTotals(os.Stdout, c.Dataset, c.Model, outPath, totals)
	if runErr != nil {
		return fmt.Errorf("run interrupted after %d of %d items: %w", totals.Total, len(items), runErr)
	}
	return nil
}

func newClient(providerName string, cfg *config.Config) (provider.Client, error) {
	apiKey, err := cfg.APIKeyFor(providerName)
	if err != nil {
		return nil, err
	}
	opts := []provider.Option{
		provider.WithTimeout(cfg.HTTPTimeout),
		provider.WithRateLimitFloor(cfg.Retry.CooldownFloor),
	}
	switch providerName {
	case "gemini":
		return gemini.New(apiKey, opts...), nil
	case "openrouter":
		return openai.NewOpenRouter(apiKey, opts...), nil
	case "openai":
		return openai.New(apiKey, opts...), nil
	case "claude":
		return claude.New(apiKey, opts...), nil
	case "echo":
		return echo.New(), nil
	}
	return nil, fmt.Errorf("%w: no client for provider %s", router.ErrUnknownModel, providerName)
}

// openSinks connects the optional Postgres and Redis sinks.
func openSinks(ctx context.Context, cfg *config.Config) (results.MultiSink, func(), error) {
	var sinks results.MultiSink
	var closers []func()
	closeAll := func() {
		for _, c := range slices.Backward(closers) {
			c()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, closeAll, fmt.Errorf("failed to connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("failed to ping postgres: %w", err)
		}
		store := results.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		log.Println("PostgreSQL connected")
		sinks = append(sinks, store)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Println("Redis connected")
		sinks = append(sinks, results.NewRedisStream(rdb, cfg.RedisStream, cfg.RedisStreamMaxLen))
	}

	return sinks, closeAll, nil
}

func defaultOutPath(dir, datasetName, model string) string {
	safe := strings.NewReplacer("/", "_", ":", "_").Replace(model)
	return filepath.Join(dir, fmt.Sprintf("%s__%s.jsonl", datasetName, safe))
}

func printTotals(w io.Writer, datasetName, model, outPath string, t results.Totals) {
	fmt.Fprintf(w, "Evaluated %d items on %s with %s\n", t.Total, datasetName, model)
	fmt.Fprintf(w, "Accuracy: %.4f\n", t.Accuracy)
	if t.Failed > 0 {
		reasons := make([]string, 0, len(t.FailureReasons))
		for r := range t.FailureReasons {
			reasons = append(reasons, r)
		}
		slices.Sort(reasons)
		parts := make([]string, len(reasons))
		for i, r := range reasons {
			parts[i] = fmt.Sprintf("%s=%d", r, t.FailureReasons[r])
		}
		fmt.Fprintf(w, "Failed: %d (%s)\n", t.Failed, strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "Results: %s\n", outPath)
}

// closeLogged closes c and logs any error.
func closeLogged(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("[eval] closing %s: %v", name, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
