package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/tabsync"
	"github.com/MrEthical07/tabsync/alert"
	otelexport "github.com/MrEthical07/tabsync/metrics/export/otel"
	"github.com/MrEthical07/tabsync/metrics/export/prometheus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code so that deferred cleanup always happens
// before main exits.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tabsync-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		tabs       = fs.Int("tabs", 4, "number of simulated tabs")
		redisAddr  = fs.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix     = fs.String("prefix", "", "redis key prefix; overrides the config file")
		remember   = fs.Bool("remember", false, "keep the login in the persistent store")
		configPath = fs.String("config", "", "optional YAML config file")
		username   = fs.String("username", "alice", "user to log in")
		password   = fs.String("password", "", "password for the token endpoint, when login.base_url is configured")
		wait       = fs.Duration("wait", 2*time.Second, "how long to wait for propagation")
		withOTel   = fs.Bool("otel", false, "also collect metrics through OpenTelemetry and print a summary")
		verbose    = fs.BoolP("verbose", "v", false, "log relay traffic")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *tabs <= 0 {
		fmt.Fprintln(stderr, "tabs must be > 0")
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	if *prefix != "" {
		cfg.Relay.RedisPrefix = *prefix
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(stderr, "failed to start miniredis: %v\n", err)
			return 1
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(stdout, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(stdout, "using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	defer client.Close()

	var reader *sdkmetric.ManualReader
	var meter metric.Meter
	if *withOTel {
		reader = sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer provider.Shutdown(ctx)
		meter = provider.Meter("tabsync-sim")
	}

	clients := make([]*tabsync.Client, 0, *tabs)
	for i := 0; i < *tabs; i++ {
		c, err := tabsync.New().
			WithConfig(cfg).
			WithRedis(client).
			WithContextID(fmt.Sprintf("tab-%d", i)).
			WithLogger(logger).
			WithAlertSink(alert.LogSink{Logger: logger}).
			Build(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "open tab %d: %v\n", i, err)
			return 1
		}
		defer c.Close()
		clients = append(clients, c)

		if meter != nil {
			exp, err := otelexport.New(meter, c)
			if err != nil {
				fmt.Fprintf(stderr, "otel exporter for %s: %v\n", c.ID(), err)
				return 1
			}
			defer exp.Close()
		}
	}
	if !waitReady(clients, *wait) {
		fmt.Fprintln(stderr, "tabs did not become ready in time")
		return 1
	}
	fmt.Fprintf(stdout, "opened %d tabs\n", len(clients))

	var (
		mu          sync.Mutex
		transitions = make(map[string][]bool, len(clients))
		watchers    sync.WaitGroup
	)
	for _, c := range clients {
		ch, _ := c.LoginStatusChanged()
		watchers.Add(1)
		go func(id string) {
			defer watchers.Done()
			for status := range ch {
				mu.Lock()
				transitions[id] = append(transitions[id], status)
				mu.Unlock()
			}
		}(c.ID())
	}

	start := time.Now()
	if err := login(ctx, clients[0], cfg, *username, *password, *remember); err != nil {
		fmt.Fprintf(stderr, "login: %v\n", err)
		return 1
	}
	if !waitState(ctx, clients, true, *wait) {
		fmt.Fprintln(stderr, "login did not reach every tab")
	}
	fmt.Fprintf(stdout, "login propagated in %s\n", time.Since(start).Round(time.Microsecond))
	printState(ctx, stdout, clients)

	start = time.Now()
	if err := clients[len(clients)-1].Logout(ctx); err != nil {
		fmt.Fprintf(stderr, "logout: %v\n", err)
		return 1
	}
	if !waitState(ctx, clients, false, *wait) {
		fmt.Fprintln(stderr, "logout did not reach every tab")
	}
	fmt.Fprintf(stdout, "logout propagated in %s\n", time.Since(start).Round(time.Microsecond))
	printState(ctx, stdout, clients)

	if reader != nil {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(ctx, &rm); err != nil {
			fmt.Fprintf(stderr, "otel collect: %v\n", err)
			return 1
		}
		instruments := 0
		for _, sm := range rm.ScopeMetrics {
			instruments += len(sm.Metrics)
		}
		fmt.Fprintf(stdout, "otel: %d instruments collected for %d tabs\n", instruments, len(clients))
	}

	for _, c := range clients {
		c.Close()
	}
	watchers.Wait()

	fmt.Fprintln(stdout, "---- transitions ----")
	for _, c := range clients {
		fmt.Fprintf(stdout, "%s: %v\n", c.ID(), transitions[c.ID()])
	}

	fmt.Fprintln(stdout, "---- metrics (tab-0) ----")
	fmt.Fprint(stdout, prometheus.NewPrometheusExporter(clients[0]).Render())
	return 0
}

func loadConfig(path string) (tabsync.Config, error) {
	cfg := tabsync.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// login uses the token endpoint when one is configured and otherwise stores
// a local credential for username.
func login(ctx context.Context, c *tabsync.Client, cfg tabsync.Config, username, password string, remember bool) error {
	if cfg.Login.BaseURL != "" {
		_, err := c.LoginWithPassword(ctx, tabsync.LoginRequest{
			UserName:   username,
			Password:   password,
			RememberMe: &remember,
		})
		return err
	}
	user := &tabsync.User{ID: username, UserName: username, IsEnabled: true}
	return c.Save(ctx, user, "sim-access-"+username, "sim-refresh-"+username, time.Now().Add(time.Hour), remember)
}

func waitReady(clients []*tabsync.Client, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for _, c := range clients {
		select {
		case <-c.StorageReady():
		case <-deadline:
			return false
		}
	}
	return true
}

func waitState(ctx context.Context, clients []*tabsync.Client, loggedIn bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		all := true
		for _, c := range clients {
			ok, err := c.IsLoggedIn(ctx)
			if err != nil || ok != loggedIn {
				all = false
				break
			}
		}
		if all {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func printState(ctx context.Context, w io.Writer, clients []*tabsync.Client) {
	for _, c := range clients {
		user, err := c.CurrentUser(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(w, "  %s: error %v\n", c.ID(), err)
		case user == nil:
			fmt.Fprintf(w, "  %s: logged out\n", c.ID())
		default:
			fmt.Fprintf(w, "  %s: %s\n", c.ID(), user.FriendlyName())
		}
	}
}
