package main

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-taskbench/taskbench/app/bench"
	"github.com/go-taskbench/taskbench/app/store"
	"github.com/go-taskbench/taskbench/app/web"
)

func startServer(t *testing.T, name string) string {
	t.Helper()
	st, err := store.New(t.Context(), store.Params{Path: filepath.Join(t.TempDir(), "db.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	srv, err := web.New(web.Config{Store: st, Name: name})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	go func() { _ = srv.Run(t.Context(), addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	return "http://" + addr
}

func setOpts(url, out string) {
	opts.URL = url
	opts.Out = out
	opts.Iterations = 5
	opts.Parallel = 3
	opts.PoolSize = 100
	opts.Retries = 1
	opts.RetryBackoff = 10 * time.Millisecond
	opts.Timeout = 5 * time.Second
	opts.Notify.Webhook = ""
	opts.Notify.Timeout = time.Second
}

func Test_run(t *testing.T) {
	received := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
	}))
	defer hook.Close()

	outDir := t.TempDir()
	setOpts(startServer(t, "go-cmd"), outDir)
	opts.Notify.Webhook = hook.URL

	out := bytes.Buffer{}
	require.NoError(t, run(t.Context(), &out))

	fname := filepath.Join(outDir, "benchmark_results_go-cmd.json")
	assert.Contains(t, out.String(), "Results saved to "+fname)
	assert.Contains(t, out.String(), "\nBenchmarking Hello World:\n")
	assert.Contains(t, out.String(), "\nBenchmarking Delete:\n")

	res, err := bench.LoadResults(fname)
	require.NoError(t, err)
	require.Len(t, res, 5)
	for i, op := range bench.Operations {
		assert.Equal(t, op, res[i].Name)
	}

	select {
	case text := <-received:
		assert.Contains(t, text, "Benchmark of go-cmd completed")
		assert.Contains(t, text, "iterations: 5, parallel requests: 3")
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}

func Test_runServerDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + l.Addr().String()
	require.NoError(t, l.Close())

	outDir := t.TempDir()
	setOpts(url, outDir)
	err = run(t.Context(), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to identify server")

	files, err := filepath.Glob(filepath.Join(outDir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func Test_runSetupFailure(t *testing.T) {
	var creates atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/info":
			_, _ = w.Write([]byte("broken"))
		case r.Method == http.MethodPost:
			if creates.Add(1) > 10 { // create benchmark passes, setup for read fails
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id":1,"name":"Test Task","done":false}`))
		default:
			_, _ = w.Write([]byte("Hello, world!"))
		}
	}))
	defer ts.Close()

	outDir := t.TempDir()
	setOpts(ts.URL, outDir)
	err := run(t.Context(), io.Discard)
	require.Error(t, err)

	var fatal *bench.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, bench.OpRead, fatal.Op)
	assert.Equal(t, bench.PhaseSetup, fatal.Phase)
	assert.NoFileExists(t, filepath.Join(outDir, "benchmark_results_broken.json"))
}

func Test_runBadName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("  \n"))
	}))
	defer ts.Close()

	setOpts(ts.URL, t.TempDir())
	err := run(t.Context(), io.Discard)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "bad server name"))
}
