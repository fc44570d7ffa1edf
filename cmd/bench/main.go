package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"

	"github.com/go-taskbench/taskbench/app/bench"
	"github.com/go-taskbench/taskbench/app/bench/preflight"
	"github.com/go-taskbench/taskbench/app/notify"
)

var opts struct {
	Iterations   int           `short:"i" long:"iterations" env:"BENCH_ITERATIONS" default:"100" description:"calls per measured phase"`
	Parallel     int           `short:"p" long:"parallel-requests" env:"BENCH_PARALLEL_REQUESTS" default:"10" description:"worker pool size"`
	URL          string        `short:"u" long:"url" env:"BENCH_URL" default:"http://localhost:8000" description:"benchmarked server url"`
	Out          string        `short:"o" long:"out" env:"BENCH_OUT" default:"." description:"directory for results file"`
	PoolSize     int           `long:"pool-size" env:"BENCH_POOL_SIZE" default:"100" description:"max connections to the server"`
	Retries      int           `long:"retries" env:"BENCH_RETRIES" default:"1" description:"retries on 500, 502, 503 and 504"`
	RetryBackoff time.Duration `long:"retry-backoff" env:"BENCH_RETRY_BACKOFF" default:"100ms" description:"initial delay between retries"`
	Timeout      time.Duration `long:"timeout" env:"BENCH_TIMEOUT" default:"30s" description:"request timeout"`

	Preflight struct {
		CPUBelow      int     `long:"cpu-below" env:"CPU_BELOW" description:"warn if cpu usage percent is not below, 0 - disabled"`
		MemoryBelow   int     `long:"mem-below" env:"MEM_BELOW" description:"warn if used memory percent is not below, 0 - disabled"`
		LoadBelow     float64 `long:"load-below" env:"LOAD_BELOW" description:"warn if 1m load average is not below, 0 - disabled"`
		DiskFreeAbove int     `long:"disk-free-above" env:"DISK_FREE_ABOVE" description:"warn if free disk percent is not above, 0 - disabled"`
	} `group:"preflight" namespace:"preflight" env-namespace:"BENCH_PREFLIGHT"`

	Notify struct {
		Webhook string        `long:"webhook" env:"WEBHOOK" description:"webhook url for results summary"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"webhook timeout"`
		Headers []string      `long:"header" env:"HEADERS" env-delim:"," description:"webhook header, name:value"`
	} `group:"notify" namespace:"notify" env-namespace:"BENCH_NOTIFY"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("taskbench bench %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout)
	cancel()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// run identifies the server, benchmarks it and saves results. Any error is fatal, no results saved.
func run(ctx context.Context, out io.Writer) error {
	preflight.Check(preflight.Config{
		CPUBelow:      opts.Preflight.CPUBelow,
		MemoryBelow:   opts.Preflight.MemoryBelow,
		LoadAvgBelow:  opts.Preflight.LoadBelow,
		DiskFreeAbove: opts.Preflight.DiskFreeAbove,
		DiskFreePath:  opts.Out,
	})

	sess, err := bench.NewSession(bench.SessionParams{
		BaseURL:     opts.URL,
		PoolSize:    opts.PoolSize,
		Concurrency: opts.Parallel,
		Retries:     opts.Retries,
		Backoff:     opts.RetryBackoff,
		Timeout:     opts.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to make session: %w", err)
	}
	defer sess.Close()

	info, err := sess.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to identify server: %w", err)
	}
	server, err := bench.SanitizeName(info)
	if err != nil {
		return fmt.Errorf("bad server name %q: %w", info, err)
	}
	log.Printf("[INFO] benchmarking %s at %s, %d iterations, %d parallel requests, pool %d",
		server, opts.URL, opts.Iterations, opts.Parallel, sess.PoolSize())

	runner, err := bench.NewRunner(bench.RunnerParams{Client: sess, Iterations: opts.Iterations,
		Parallel: opts.Parallel, Out: out})
	if err != nil {
		return err
	}
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fname, err := res.Save(opts.Out, server)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Results saved to %s\n", fname)

	notifyResults(ctx, server, res)
	return nil
}

// notifyResults sends summary to the webhook if enabled, failures are only logged
func notifyResults(ctx context.Context, server string, res bench.Results) {
	svc := notify.NewService(notify.Params{WebhookURL: opts.Notify.Webhook, Timeout: opts.Notify.Timeout,
		Headers: opts.Notify.Headers})
	if svc == nil {
		return
	}
	text, err := notify.MakeSummary(notify.Summary{Server: server, Iterations: opts.Iterations,
		Parallel: opts.Parallel, Results: res})
	if err != nil {
		log.Printf("[WARN] failed to make summary, %v", err)
		return
	}
	if err := svc.Send(ctx, text); err != nil {
		log.Printf("[WARN] %v", err)
	}
}

func setupLogs(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return
	}
	log.Setup(log.Msec)
}
