// Package store provides the task storage for the service.
// It keeps a single task table in an SQLite file opened in WAL mode with relaxed
// synchronous flushing and a small, bounded connection pool shared by all requests.
package store
