package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
)

// benchmarked operations, in the order they run
const (
	OpHello  = "Hello World"
	OpCreate = "Create"
	OpRead   = "Read"
	OpUpdate = "Update"
	OpDelete = "Delete"
)

// Operations lists benchmarked operations in the fixed run order
var Operations = []string{OpHello, OpCreate, OpRead, OpUpdate, OpDelete}

// Client defines calls to the benchmarked server
type Client interface {
	Hello(ctx context.Context) error
	CreateTask(ctx context.Context) (int64, error)
	ReadTask(ctx context.Context, id int64) error
	UpdateTask(ctx context.Context, id int64) error
	DeleteTask(ctx context.Context, id int64) error
}

// RunnerParams defines runner configuration
type RunnerParams struct {
	Client     Client
	Iterations int              // calls per measured phase
	Parallel   int              // worker pool size for setup, cleanup and multi-threaded phases
	Out        io.Writer        // human-readable summary, stdout if nil
	Now        func() time.Time // clock, time.Now if nil
}

// Runner runs all benchmarked operations against a single server
type Runner struct {
	client     Client
	iterations int
	parallel   int
	out        io.Writer
	now        func() time.Time
}

// operation is a single benchmarked call. Calls which don't need a task get zero id.
type operation struct {
	name       string
	needsTasks bool
	call       func(ctx context.Context, id int64) error
}

// NewRunner makes a runner, iterations and parallel must be positive
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Client == nil {
		return nil, errors.New("client is required")
	}
	if params.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", params.Iterations)
	}
	if params.Parallel <= 0 {
		return nil, fmt.Errorf("parallel requests must be positive, got %d", params.Parallel)
	}
	res := &Runner{client: params.Client, iterations: params.Iterations, parallel: params.Parallel,
		out: params.Out, now: params.Now}
	if res.out == nil {
		res.out = os.Stdout
	}
	if res.now == nil {
		res.now = time.Now
	}
	return res, nil
}

// Run benchmarks every operation in order. The first fatal error stops the run,
// results are returned only if all operations completed.
func (r *Runner) Run(ctx context.Context) (Results, error) {
	results := make(Results, 0, len(Operations))
	for _, op := range r.operations() {
		timing, err := r.runOperation(ctx, op)
		if err != nil {
			return nil, err
		}
		opRes := OperationResult{Name: op.name, Timing: timing}
		results = append(results, opRes)
		Results{opRes}.Print(r.out)
	}
	return results, nil
}

func (r *Runner) operations() []operation {
	return []operation{
		{name: OpHello, call: func(ctx context.Context, _ int64) error { return r.client.Hello(ctx) }},
		{name: OpCreate, call: func(ctx context.Context, _ int64) error {
			_, err := r.client.CreateTask(ctx)
			return err
		}},
		{name: OpRead, needsTasks: true, call: r.client.ReadTask},
		{name: OpUpdate, needsTasks: true, call: r.client.UpdateTask},
		{name: OpDelete, needsTasks: true, call: r.client.DeleteTask},
	}
}

// runOperation measures single and multi-threaded modes, each one with its own fresh set of tasks.
// Delete consumes its tasks, so nothing is left to clean up after it.
func (r *Runner) runOperation(ctx context.Context, op operation) (Timing, error) {
	var res Timing
	var err error

	var ids []int64
	if op.needsTasks {
		if ids, err = r.setup(ctx, op.name); err != nil {
			return Timing{}, err
		}
	}
	if res.SingleThreaded, err = r.measureSingle(ctx, op, ids); err != nil {
		return Timing{}, err
	}
	if op.needsTasks && op.name != OpDelete {
		r.cleanup(ctx, op.name, ids)
	}

	if op.needsTasks {
		if ids, err = r.setup(ctx, op.name); err != nil {
			return Timing{}, err
		}
	}
	if res.MultiThreaded, err = r.measureMulti(ctx, op, ids); err != nil {
		return Timing{}, err
	}
	if op.needsTasks && op.name != OpDelete {
		r.cleanup(ctx, op.name, ids)
	}
	return res, nil
}

// setup creates iterations tasks concurrently and returns their ids, in no particular order.
// Any failed create fails the whole run.
func (r *Runner) setup(ctx context.Context, opName string) ([]int64, error) {
	log.Printf("[DEBUG] setup %d tasks for %s", r.iterations, opName)
	var mu sync.Mutex
	ids := make([]int64, 0, r.iterations)
	var failed int
	var firstErr error

	gr := syncs.NewSizedGroup(r.parallel)
	for range r.iterations {
		gr.Go(func(context.Context) {
			id, err := r.client.CreateTask(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			ids = append(ids, id)
		})
	}
	gr.Wait()

	if failed > 0 {
		return nil, &FatalError{Op: opName, Phase: PhaseSetup,
			Err: fmt.Errorf("%d of %d creates failed: %w", failed, r.iterations, firstErr)}
	}
	if len(ids) != r.iterations {
		return nil, &FatalError{Op: opName, Phase: PhaseSetup,
			Err: fmt.Errorf("created %d of %d tasks: %w", len(ids), r.iterations, ctx.Err())}
	}
	return ids, nil
}

// measureSingle runs calls one by one and returns ms per call
func (r *Runner) measureSingle(ctx context.Context, op operation, ids []int64) (float64, error) {
	log.Printf("[DEBUG] single-threaded %s, %d iterations", op.name, r.iterations)
	start := r.now()
	for i := range r.iterations {
		if err := op.call(ctx, taskAt(ids, i)); err != nil {
			return 0, &FatalError{Op: op.name, Phase: PhaseSingle, Err: err}
		}
	}
	return msPerOp(r.now().Sub(start), r.iterations), nil
}

// measureMulti submits all calls to the worker pool at once and returns ms per call.
// A failed call doesn't cancel others, the error is reported after all of them completed.
func (r *Runner) measureMulti(ctx context.Context, op operation, ids []int64) (float64, error) {
	log.Printf("[DEBUG] multi-threaded %s, %d iterations, %d workers", op.name, r.iterations, r.parallel)
	var mu sync.Mutex
	var failed int
	var firstErr error

	start := r.now()
	gr := syncs.NewSizedGroup(r.parallel)
	for i := range r.iterations {
		id := taskAt(ids, i)
		gr.Go(func(context.Context) {
			if err := op.call(ctx, id); err != nil {
				mu.Lock()
				defer mu.Unlock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
			}
		})
	}
	gr.Wait()
	elapsed := r.now().Sub(start)

	if failed > 0 {
		return 0, &FatalError{Op: op.name, Phase: PhaseMulti,
			Err: fmt.Errorf("%d of %d calls failed: %w", failed, r.iterations, firstErr)}
	}
	return msPerOp(elapsed, r.iterations), nil
}

// cleanup deletes tasks concurrently and waits for all deletes. Failures are only logged,
// returns the number of failed deletes.
func (r *Runner) cleanup(ctx context.Context, opName string, ids []int64) int {
	log.Printf("[DEBUG] cleanup %d tasks after %s", len(ids), opName)
	var mu sync.Mutex
	var failed int

	gr := syncs.NewSizedGroup(r.parallel)
	for _, id := range ids {
		gr.Go(func(context.Context) {
			if err := r.client.DeleteTask(ctx, id); err != nil {
				log.Printf("[WARN] cleanup after %s, failed to delete task %d: %v", opName, id, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		})
	}
	gr.Wait()

	if failed > 0 {
		log.Printf("[WARN] cleanup after %s, %d of %d deletes failed", opName, failed, len(ids))
	}
	return failed
}

func taskAt(ids []int64, i int) int64 {
	if i < len(ids) {
		return ids[i]
	}
	return 0
}

func msPerOp(elapsed time.Duration, iterations int) float64 {
	return float64(elapsed) / float64(time.Millisecond) / float64(iterations)
}
