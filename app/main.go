package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-taskbench/taskbench/app/store"
	"github.com/go-taskbench/taskbench/app/web"
)

var opts struct {
	Listen      string        `short:"l" long:"listen" env:"TASKBENCH_LISTEN" default:"127.0.0.1:8000" description:"listen address"`
	DB          string        `long:"db" env:"TASKBENCH_DB" default:"db.sqlite" description:"sqlite database file"`
	PoolSize    int           `long:"pool-size" env:"TASKBENCH_POOL_SIZE" default:"2" description:"max open database connections"`
	BusyTimeout time.Duration `long:"busy-timeout" env:"TASKBENCH_BUSY_TIMEOUT" default:"5s" description:"sqlite busy timeout"`
	Name        string        `long:"name" env:"TASKBENCH_NAME" default:"go-routegroup" description:"server name reported by /info"`
	Throttle    int64         `long:"throttle" env:"TASKBENCH_THROTTLE" default:"0" description:"max in-flight requests, 0 - unlimited"`
	RateLimit   float64       `long:"rate-limit" env:"TASKBENCH_RATE_LIMIT" default:"0" description:"max requests per second per ip, 0 - unlimited"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"file" env:"FILE" default:"taskbench.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files to keep"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep rotated files, 0 - forever"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"TASKBENCH_LOG"`

	Dbg bool `long:"dbg" env:"TASKBENCH_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("taskbench %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// run opens the store and serves until ctx canceled
func run(ctx context.Context) error {
	st, err := store.New(ctx, store.Params{Path: opts.DB, PoolSize: opts.PoolSize, BusyTimeout: opts.BusyTimeout})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	srv, err := web.New(web.Config{
		Store:     st,
		Name:      opts.Name,
		Version:   revision,
		Throttle:  opts.Throttle,
		RateLimit: opts.RateLimit,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx, opts.Listen)
}

// setupLogs configures lgr and returns the log destination, rotated file if enabled or stdout
func setupLogs() io.Writer {
	var out io.Writer = os.Stdout
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Out(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Msec)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
