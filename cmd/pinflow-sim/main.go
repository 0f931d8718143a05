// Command pinflow-sim drives the engine against an in-process auth service: a full SIGNUP,
// a background lock and PIN unlock, then a storm of concurrent requests after the access
// token is revoked. It reports latencies and how many refresh calls the storm produced.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/pinflow"
	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/internal/authtest"
	promexport "github.com/MrEthical07/pinflow/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	simOTP = "000000"
	simPIN = "2468"
)

func main() {
	_ = godotenv.Load()

	var (
		concurrency = flag.Int("concurrency", 64, "concurrent requests in the 401 storm")
		rounds      = flag.Int("rounds", 5, "number of revoke + storm rounds")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, PINFLOW_STORAGE_REDIS_ADDR or miniredis is used")
		refreshLag  = flag.Duration("refresh-delay", 50*time.Millisecond, "artificial latency of the refresh endpoint")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics here and wait for interrupt")
		verbose     = flag.Bool("v", false, "development logging")
	)
	flag.Parse()

	if *concurrency <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency and rounds must be > 0")
		os.Exit(2)
	}

	if err := run(*concurrency, *rounds, *redisAddr, *refreshLag, *metricsAddr, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "pinflow-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(concurrency, rounds int, redisAddr string, refreshLag time.Duration, metricsAddr string, verbose bool) error {
	ctx := context.Background()

	cfg, err := pinflow.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	cfg.Log = pinflow.LogConfig{Enabled: true, Level: "info", Development: verbose}
	cfg.Metrics = pinflow.MetricsConfig{Enabled: true, EnableLatencyHistograms: true}
	cfg.AuthAPI.OTPResendCooldown = 0

	logger, err := pinflow.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if redisAddr == "" {
		redisAddr = cfg.Storage.RedisAddr
	}
	if redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		logger.Info("using miniredis", zap.String("addr", redisAddr))
	} else {
		logger.Info("using redis", zap.String("addr", redisAddr))
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = rdb.Close() }()

	srv, err := authtest.New(authtest.Options{FixedOTP: simOTP, RefreshDelay: refreshLag})
	if err != nil {
		return err
	}
	defer srv.Close()
	cfg.AuthAPI.BaseURL = srv.URL

	engine, err := pinflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(pinflow.NewZapSink(logger)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	start := time.Now()
	if err := signUp(ctx, engine); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	logger.Info("signed up", zap.Duration("took", time.Since(start)))

	if err := engine.OnBackground(ctx); err != nil {
		return err
	}
	if res := engine.ValidatePinAndCreateSession(ctx, "9999"); res.Valid {
		return errors.New("wrong PIN accepted")
	}
	if res := engine.ValidatePinAndCreateSession(ctx, simPIN); !res.Valid {
		return fmt.Errorf("unlock failed: %s", res.Error)
	}

	client := engine.HTTPClient()
	for r := 1; r <= rounds; r++ {
		before := srv.RefreshCalls()
		srv.RevokeAccess()
		stats := storm(ctx, client, srv.URL+"/api/me", concurrency)
		printStats(fmt.Sprintf("round %d", r), stats, srv.RefreshCalls()-before)
	}

	if err := engine.Logout(ctx, false); err != nil {
		return err
	}

	if metricsAddr != "" {
		logger.Info("serving metrics", zap.String("addr", metricsAddr))
		return http.ListenAndServe(metricsAddr, promexport.NewExporter(engine).Handler())
	}
	return nil
}

func signUp(ctx context.Context, engine *pinflow.Engine) error {
	inst, err := engine.InitiateFlow(ctx, flow.TypeSignUp, flow.StepData{})
	if err != nil {
		return err
	}
	payloads := []flow.Payload{
		flow.PhoneEntry{Phone: "+15550100"},
		flow.PhoneOTP{Code: simOTP},
		flow.EmailEntry{Email: "sim@example.com"},
		flow.EmailOTP{Code: simOTP},
		flow.TokenAcquisition{},
		flow.Profile{FirstName: "Sim", LastName: "User"},
		flow.PINSetup{PIN: simPIN, Confirm: simPIN},
	}

	index, data := inst.InitialIndex, inst.InitialData
	for _, p := range payloads {
		tr, err := engine.Advance(ctx, inst, index, data, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Step(), err)
		}
		if tr.Rejection != nil {
			return fmt.Errorf("%s: %s", p.Step(), tr.Rejection.Message)
		}
		index, data = tr.Index, tr.Data
	}
	return nil
}

type stormStats struct {
	total    time.Duration
	ok       int64
	failures int64
	p50      time.Duration
	p99      time.Duration
}

func storm(ctx context.Context, client *http.Client, url string, concurrency int) stormStats {
	var (
		wg        sync.WaitGroup
		ok        int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, concurrency)
	)

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t0 := time.Now()
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			resp, err := client.Do(req)
			d := time.Since(t0)
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
			if err != nil || resp.StatusCode != http.StatusOK {
				atomic.AddInt64(&failures, 1)
			} else {
				atomic.AddInt64(&ok, 1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return stormStats{
		total:    time.Since(start),
		ok:       ok,
		failures: failures,
		p50:      percentile(latencies, 50),
		p99:      percentile(latencies, 99),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s stormStats, refreshes int64) {
	fmt.Printf("%s: ok=%d failures=%d refreshes=%d total=%s p50=%s p99=%s\n",
		name,
		s.ok,
		s.failures,
		refreshes,
		s.total.Round(time.Millisecond),
		s.p50.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
