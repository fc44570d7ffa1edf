package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-taskbench/taskbench/app/store"
	"github.com/go-taskbench/taskbench/app/web/mocks"
)

func bytesReader(s string) io.Reader { return strings.NewReader(s) }

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestAPI_TaskLifecycle(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	// create
	resp, body := doRequest(t, http.MethodPost, ts.URL+"/tasks", `{"name":"Test Task","done":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var created store.Task
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Positive(t, created.ID)
	assert.Equal(t, "Test Task", created.Name)
	assert.False(t, created.Done)
	taskURL := ts.URL + "/tasks/" + strconv.FormatInt(created.ID, 10)

	// read returns what was created, twice in a row
	resp, body = doRequest(t, http.MethodGet, taskURL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got store.Task
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created, got)
	_, body2 := doRequest(t, http.MethodGet, taskURL, "")
	assert.Equal(t, string(body), string(body2))

	// update keeps id, replaces fields
	resp, body = doRequest(t, http.MethodPut, taskURL, `{"name":"Updated Task","done":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated store.Task
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, store.Task{ID: created.ID, Name: "Updated Task", Done: true}, updated)

	resp, body = doRequest(t, http.MethodGet, taskURL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, updated, got)

	// list
	resp, body = doRequest(t, http.MethodGet, ts.URL+"/tasks/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []store.Task
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, []store.Task{updated}, list)

	// delete returns count
	resp, body = doRequest(t, http.MethodDelete, taskURL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", strings.TrimSpace(string(body)))

	// gone after delete, second delete is not found too
	resp, _ = doRequest(t, http.MethodGet, taskURL, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body = doRequest(t, http.MethodDelete, taskURL, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"task not found"}`, string(body))
	resp, _ = doRequest(t, http.MethodPut, taskURL, `{"name":"x","done":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListEmpty(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	for _, path := range []string{"/tasks", "/tasks/"} {
		t.Run(path, func(t *testing.T) {
			resp, body := doRequest(t, http.MethodGet, ts.URL+path, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "[]", strings.TrimSpace(string(body)))
		})
	}
}

func TestAPI_CreateValidation(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantDone bool
	}{
		{"valid", `{"name":"a","done":true}`, http.StatusCreated, true},
		{"empty name allowed", `{"name":"","done":false}`, http.StatusCreated, false},
		{"done as string", `{"name":"a","done":"True"}`, http.StatusCreated, true},
		{"done as lower string", `{"name":"a","done":"false"}`, http.StatusCreated, false},
		{"done bad string", `{"name":"a","done":"yes"}`, http.StatusBadRequest, false},
		{"missing done", `{"name":"a"}`, http.StatusBadRequest, false},
		{"missing name", `{"done":true}`, http.StatusBadRequest, false},
		{"null name", `{"name":null,"done":true}`, http.StatusBadRequest, false},
		{"name too long", `{"name":"` + strings.Repeat("x", 1025) + `","done":true}`, http.StatusBadRequest, false},
		{"not json", `name=a`, http.StatusBadRequest, false},
		{"wrong type", `{"name":123,"done":true}`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, http.MethodPost, ts.URL+"/tasks", tt.body)
			require.Equal(t, tt.wantCode, resp.StatusCode, string(body))
			if tt.wantCode != http.StatusCreated {
				assert.JSONEq(t, `{"error":"invalid request body"}`, string(body))
				return
			}
			var created store.Task
			require.NoError(t, json.Unmarshal(body, &created))
			assert.Equal(t, tt.wantDone, created.Done)
		})
	}
}

func TestAPI_InvalidID(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			body := ""
			if method == http.MethodPut {
				body = `{"name":"a","done":true}`
			}
			resp, data := doRequest(t, method, ts.URL+"/tasks/abc", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.JSONEq(t, `{"error":"invalid task id"}`, string(data))
		})
	}
}

func TestAPI_StoreErrors(t *testing.T) {
	storeErr := errors.New("disk I/O error")
	st := &mocks.StoreMock{
		CreateFunc: func(context.Context, store.NewTask) (store.Task, error) { return store.Task{}, storeErr },
		GetFunc:    func(context.Context, int64) (store.Task, error) { return store.Task{}, storeErr },
		ListFunc:   func(context.Context) ([]store.Task, error) { return nil, storeErr },
		UpdateFunc: func(context.Context, int64, store.NewTask) (store.Task, error) { return store.Task{}, storeErr },
		DeleteFunc: func(context.Context, int64) (int64, error) { return 0, storeErr },
	}
	srv, err := New(Config{Store: st})
	require.NoError(t, err)

	tests := []struct {
		method, path, body, wantErr string
	}{
		{http.MethodPost, "/tasks", `{"name":"a","done":true}`, "failed to create task"},
		{http.MethodGet, "/tasks/1", "", "failed to get task"},
		{http.MethodGet, "/tasks", "", "failed to list tasks"},
		{http.MethodPut, "/tasks/1", `{"name":"a","done":true}`, "failed to update task"},
		{http.MethodDelete, "/tasks/1", "", "failed to delete task"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.routes().ServeHTTP(w, req)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.wantErr+`"}`, w.Body.String())
		})
	}

	assert.Len(t, st.CreateCalls(), 1)
	assert.Equal(t, int64(1), st.GetCalls()[0].ID)
	assert.Equal(t, store.NewTask{Name: "a", Done: true}, st.UpdateCalls()[0].T)
}

func TestAPI_NotFoundWrapped(t *testing.T) {
	st := &mocks.StoreMock{
		GetFunc: func(context.Context, int64) (store.Task, error) {
			return store.Task{}, errors.Join(errors.New("lookup"), store.ErrNotFound)
		},
	}
	srv, err := New(Config{Store: st})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks/42", http.NoBody)
	w := httptest.NewRecorder()
	srv.handleGetTask(w, withPathValue(req, "id", "42"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(42), st.GetCalls()[0].ID)
}

func TestFlexBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{`true`, true, false},
		{`false`, false, false},
		{`"true"`, true, false},
		{`"TRUE"`, true, false},
		{`"False"`, false, false},
		{`"1"`, false, true},
		{`1`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var b flexBool
			err := json.Unmarshal([]byte(tt.in), &b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, bool(b))
		})
	}
}

func withPathValue(r *http.Request, key, value string) *http.Request {
	r.SetPathValue(key, value)
	return r
}
