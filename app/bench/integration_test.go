package bench

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-taskbench/taskbench/app/store"
	"github.com/go-taskbench/taskbench/app/web"
)

func TestBenchmark_AgainstServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}

	st, err := store.New(t.Context(), store.Params{Path: filepath.Join(t.TempDir(), "bench.db")})
	require.NoError(t, err)
	defer st.Close()

	srv, err := web.New(web.Config{Store: st, Name: "go-test", Version: "test"})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	go func() { _ = srv.Run(t.Context(), addr) }()
	baseURL := fmt.Sprintf("http://%s", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	sess, err := NewSession(SessionParams{BaseURL: baseURL, PoolSize: 2, Concurrency: 5, Retries: 1})
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 5, sess.PoolSize())

	name, err := sess.Info(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "go-test", name)

	out := bytes.Buffer{}
	runner, err := NewRunner(RunnerParams{Client: sess, Iterations: 10, Parallel: 5, Out: &out})
	require.NoError(t, err)
	res, err := runner.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, res, len(Operations))
	for _, op := range res {
		assert.Positive(t, op.Timing.SingleThreaded, op.Name)
		assert.Positive(t, op.Timing.MultiThreaded, op.Name)
	}

	// only tasks made by the create benchmark are left
	tasks, err := st.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, tasks, 20)

	fname, err := res.Save(t.TempDir(), name)
	require.NoError(t, err)
	assert.Equal(t, "benchmark_results_go-test.json", filepath.Base(fname))
	loaded, err := LoadResults(fname)
	require.NoError(t, err)
	assert.Equal(t, res, loaded)
}
