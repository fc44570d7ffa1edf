package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-taskbench/taskbench/app/bench"
	"github.com/go-taskbench/taskbench/app/notify/mocks"
)

func TestNewService(t *testing.T) {
	assert.Nil(t, NewService(Params{}))

	svc := NewService(Params{WebhookURL: "http://example.com/hook"})
	require.NotNil(t, svc)
	assert.Equal(t, 10*time.Second, svc.timeout)
	assert.Equal(t, "http://example.com/hook", svc.url)
}

func TestService_SendNil(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Send(t.Context(), "text"))
}

func TestService_Send(t *testing.T) {
	tests := []struct {
		name    string
		sendErr error
		wantErr string
	}{
		{name: "success"},
		{name: "failed", sendErr: errors.New("connection refused"),
			wantErr: "failed to send notification: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mocks.SenderMock{SendFunc: func(ctx context.Context, _, _ string) error {
				_, ok := ctx.Deadline()
				assert.True(t, ok, "send has a deadline")
				return tt.sendErr
			}}
			svc := Service{sender: sender, url: "http://example.com/hook", timeout: time.Second}

			err := svc.Send(t.Context(), "benchmark done")
			require.Len(t, sender.SendCalls(), 1)
			assert.Equal(t, "http://example.com/hook", sender.SendCalls()[0].Destination)
			assert.Equal(t, "benchmark done", sender.SendCalls()[0].Text)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestService_SendWebhook(t *testing.T) {
	received := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		received <- string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	svc := NewService(Params{WebhookURL: ts.URL + "/hook", Timeout: time.Second})
	require.NotNil(t, svc)
	require.NoError(t, svc.Send(t.Context(), "Hello World: 0.1 ms"))
	assert.Equal(t, "Hello World: 0.1 ms", <-received)
}

func TestService_SendWebhookFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	svc := NewService(Params{WebhookURL: ts.URL, Timeout: time.Second})
	err := svc.Send(t.Context(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send notification")
}

func TestMakeSummary(t *testing.T) {
	res := bench.Results{
		{Name: bench.OpHello, Timing: bench.Timing{SingleThreaded: 0.5, MultiThreaded: 0.125}},
		{Name: bench.OpDelete, Timing: bench.Timing{SingleThreaded: 2, MultiThreaded: 1}},
	}
	ts := time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)

	text, err := MakeSummary(Summary{Server: "go-routegroup", Host: "bench01", Iterations: 100, Parallel: 10,
		Results: res, TS: ts})
	require.NoError(t, err)
	assert.Equal(t, "Benchmark of go-routegroup completed on bench01 at 2024-05-01T10:20:30Z\n"+
		"iterations: 100, parallel requests: 10\n"+
		"Hello World: single-threaded 0.500000 ms, multi-threaded 0.125000 ms\n"+
		"Delete: single-threaded 2.000000 ms, multi-threaded 1.000000 ms\n", text)

	text, err = MakeSummary(Summary{Server: "x", Results: res})
	require.NoError(t, err)
	assert.NotContains(t, text, "completed on  at")

	_, err = MakeSummary(Summary{Server: "x"})
	assert.Error(t, err)
}
