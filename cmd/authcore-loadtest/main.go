// Command authcore-loadtest hammers the shared key-value primitives from many
// goroutines and checks that the atomicity guarantees hold under contention:
// counters lose no increments, a limiter never admits more than its limit
// and a pending record is taken exactly once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/logging"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var (
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		limit       = flag.Int("limit", 500, "limit for the limiter phase")
		algorithm   = flag.String("algorithm", "sliding_window", "token_bucket, sliding_window or fixed_window")
		records     = flag.Int("records", 2000, "pending records for the take phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, AUTHCORE_REDIS_ADDR env or miniredis is used")
		retries     = flag.Int("update-retries", 64, "optimistic retries per atomic update")
		logLevel    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, "dev")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *concurrency <= 0 || *ops <= 0 || *limit <= 0 || *records <= 0 {
		logger.Fatal("concurrency, ops, limit and records must be > 0")
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("AUTHCORE_REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatal("failed to start miniredis", zap.Error(err))
		}
		defer mr.Close()
		addr = mr.Addr()
		logger.Info("using miniredis", zap.String("addr", addr))
	} else {
		logger.Info("using redis", zap.String("addr", addr))
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	store := kv.NewRedisStore(client, kv.RedisOptions{
		Prefix:           "loadtest:" + strconv.FormatInt(time.Now().UnixNano(), 36),
		OperationTimeout: 2 * time.Second,
		UpdateRetries:    *retries,
	})
	defer func() { _ = store.Close() }()

	limiter, err := newLimiter(*algorithm, store)
	if err != nil {
		logger.Fatal("invalid algorithm", zap.Error(err))
	}

	ctx := context.Background()
	var failed bool

	inc, got := runIncrementPhase(ctx, store, *ops, *concurrency)
	printStats("increment", inc)
	if got != int64(*ops)-inc.failures {
		logger.Error("increment lost updates", zap.Int64("counter", got), zap.Int("ops", *ops), zap.Int64("failures", inc.failures))
		failed = true
	}

	lim, admitted := runLimiterPhase(ctx, limiter, *limit, *ops, *concurrency)
	printStats("limiter/"+*algorithm, lim)
	if admitted > int64(*limit) {
		logger.Error("limiter over-admitted", zap.Int64("admitted", admitted), zap.Int("limit", *limit))
		failed = true
	}
	logger.Info("limiter phase", zap.Int64("admitted", admitted), zap.Int("limit", *limit))

	take, wins := runTakePhase(ctx, store, *records, *concurrency)
	printStats("take", take)
	if wins != int64(*records) {
		logger.Error("take not exactly-once", zap.Int64("wins", wins), zap.Int("records", *records))
		failed = true
	}

	if failed {
		os.Exit(1)
	}
	logger.Info("all invariants held")
}

func newLimiter(name string, store kv.Store) (ratelimit.Limiter, error) {
	opts := ratelimit.Options{Store: store}
	switch name {
	case "token_bucket":
		return ratelimit.NewTokenBucket(opts), nil
	case "sliding_window":
		return ratelimit.NewSlidingWindowLog(opts), nil
	case "fixed_window":
		return ratelimit.NewFixedWindow(opts), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", name)
	}
}

// run spreads ops calls of fn over concurrency workers and records latency.
func run(ops, concurrency int, fn func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runIncrementPhase(ctx context.Context, store kv.Store, ops, concurrency int) (phaseStats, int64) {
	stats := run(ops, concurrency, func(int) error {
		_, err := store.Increment(ctx, "counter")
		return err
	})
	raw, err := store.Get(ctx, "counter")
	if err != nil {
		return stats, -1
	}
	n, _ := strconv.ParseInt(string(raw), 10, 64)
	return stats, n
}

func runLimiterPhase(ctx context.Context, l ratelimit.Limiter, limit, ops, concurrency int) (phaseStats, int64) {
	var admitted int64
	stats := run(ops, concurrency, func(int) error {
		res, err := l.IsAllowed(ctx, "hot-key", limit, time.Hour)
		if err != nil {
			return err
		}
		if res.Allowed {
			atomic.AddInt64(&admitted, 1)
		}
		return nil
	})
	return stats, admitted
}

func runTakePhase(ctx context.Context, store kv.Store, records, concurrency int) (phaseStats, int64) {
	for i := 0; i < records; i++ {
		if err := store.Set(ctx, "pending:"+strconv.Itoa(i), []byte("1"), time.Hour); err != nil {
			return phaseStats{failures: int64(records)}, 0
		}
	}
	var wins int64
	// Every record is raced by four takers.
	stats := run(records*4, concurrency, func(i int) error {
		_, err := store.Take(ctx, "pending:"+strconv.Itoa(i%records))
		switch {
		case err == nil:
			atomic.AddInt64(&wins, 1)
			return nil
		case errors.Is(err, kv.ErrNotFound):
			return nil
		default:
			return err
		}
	})
	return stats, wins
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
