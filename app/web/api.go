package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/go-taskbench/taskbench/app/store"
)

// taskRequest is the body of create and update requests, both fields must be present
type taskRequest struct {
	Name *string   `json:"name" validate:"required,max=1024"`
	Done *flexBool `json:"done" validate:"required"`
}

// flexBool accepts JSON booleans as well as "true" and "false" strings in any case
type flexBool bool

// UnmarshalJSON implements json.Unmarshaler
func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("can't deserialize %s to bool", string(data))
	}
	switch strings.ToLower(str) {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("can't deserialize string %q to bool", str)
	}
	return nil
}

// handleCreateTask creates a new task, responds with 201 and the stored record
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	nt, err := s.decodeTask(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}

	task, err := s.store.Create(r.Context(), nt)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to create task")
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

// handleListTasks returns all tasks, empty array if none
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.List(r.Context())
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

// handleGetTask returns a single task
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid task id")
		return
	}

	task, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err, "failed to get task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// handleUpdateTask replaces name and done of an existing task
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid task id")
		return
	}
	nt, err := s.decodeTask(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}

	task, err := s.store.Update(r.Context(), id, nt)
	if err != nil {
		s.storeError(w, r, err, "failed to update task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask deletes a task and responds with the number of deleted records
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid task id")
		return
	}

	count, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err, "failed to delete task")
		return
	}
	s.writeJSON(w, http.StatusOK, count)
}

// decodeTask parses and validates request body
func (s *Server) decodeTask(r *http.Request) (store.NewTask, error) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return store.NewTask{}, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return store.NewTask{}, fmt.Errorf("failed to validate request: %w", err)
	}
	return store.NewTask{Name: *req.Name, Done: bool(*req.Done)}, nil
}

// storeError maps store errors to http responses, missing task is 404
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "task not found")
		return
	}
	rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, msg)
}

// taskID extracts task id from the request path
func taskID(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse task id %q: %w", idStr, err)
	}
	return id, nil
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}
