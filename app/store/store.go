package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// ErrNotFound is returned when the requested task doesn't exist
var ErrNotFound = errors.New("task not found")

// defaults used when Params fields are zero
const (
	DefaultPoolSize    = 2
	DefaultBusyTimeout = 5 * time.Second
)

// Task is a stored task record
type Task struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Done bool   `db:"done" json:"done"`
}

// NewTask holds the mutable fields of a task, used for create and update
type NewTask struct {
	Name string
	Done bool
}

// Params defines store configuration
type Params struct {
	Path        string        // database file, created if missing
	PoolSize    int           // max open connections, shared by all requests
	BusyTimeout time.Duration // how long a connection waits on a locked database
}

// SQLite implements task persistence on top of SQLite
type SQLite struct {
	db       *sqlx.DB
	poolSize int
}

// New opens the database, configures the connection pool and creates the schema.
// Pragmas are passed in the DSN, so every connection opened by the pool gets them, not only the first one.
func New(ctx context.Context, params Params) (*SQLite, error) {
	if params.Path == "" {
		return nil, errors.New("empty database path")
	}
	if params.PoolSize <= 0 {
		params.PoolSize = DefaultPoolSize
	}
	if params.BusyTimeout <= 0 {
		params.BusyTimeout = DefaultBusyTimeout
	}

	db, err := sqlx.Open("sqlite", dsn(params))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(params.PoolSize)
	db.SetMaxIdleConns(params.PoolSize)

	res := &SQLite{db: db, poolSize: params.PoolSize}
	if err := res.init(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize database: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Printf("[INFO] task store %s, pool size %d, busy timeout %v", params.Path, params.PoolSize, params.BusyTimeout)
	return res, nil
}

// dsn builds a modernc sqlite connection string with per-connection pragmas
func dsn(params Params) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", params.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + params.Path + "?" + q.Encode()
}

func (s *SQLite) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS task (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			done BOOLEAN
		)`,
		`CREATE INDEX IF NOT EXISTS ix_task_id ON task(id)`,
	}
	return s.withConn(ctx, func(conn *sqlx.Conn) error {
		for _, q := range queries {
			if _, err := conn.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
		}
		return nil
	})
}

// withConn acquires a connection from the pool for the duration of fn and releases it on every path.
// Acquisition blocks while the pool is exhausted.
func (s *SQLite) withConn(ctx context.Context, fn func(conn *sqlx.Conn) error) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("[WARN] failed to release connection: %v", err)
		}
	}()
	return fn(conn)
}

// Create inserts a new task and returns it with the assigned id
func (s *SQLite) Create(ctx context.Context, t NewTask) (Task, error) {
	var res Task
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &res,
			`INSERT INTO task (name, done) VALUES (?, ?) RETURNING id, COALESCE(name, '') AS name, COALESCE(done, 0) AS done`,
			t.Name, t.Done)
	})
	if err != nil {
		return Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	return res, nil
}

// Get returns a task by id
func (s *SQLite) Get(ctx context.Context, id int64) (Task, error) {
	var res Task
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &res,
			`SELECT id, COALESCE(name, '') AS name, COALESCE(done, 0) AS done FROM task WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return res, nil
}

// List returns all tasks, empty slice if none
func (s *SQLite) List(ctx context.Context) ([]Task, error) {
	res := []Task{}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, &res, `SELECT id, COALESCE(name, '') AS name, COALESCE(done, 0) AS done FROM task`)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return res, nil
}

// Update replaces name and done of an existing task, id stays the same
func (s *SQLite) Update(ctx context.Context, id int64, t NewTask) (Task, error) {
	var res Task
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &res,
			`UPDATE task SET name = ?, done = ? WHERE id = ? RETURNING id, COALESCE(name, '') AS name, COALESCE(done, 0) AS done`,
			t.Name, t.Done, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("failed to update task %d: %w", id, err)
	}
	return res, nil
}

// Delete removes a task and returns the number of deleted records.
// Missing task reported as 0 and ErrNotFound.
func (s *SQLite) Delete(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM task WHERE id = ?`, id)
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if count == 0 {
		return 0, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return count, nil
}

// PoolSize returns the max number of open connections
func (s *SQLite) PoolSize() int { return s.poolSize }

// Stats returns connection pool statistics
func (s *SQLite) Stats() sql.DBStats { return s.db.Stats() }

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
