package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/go-taskbench/taskbench/app/bench"
)

// thread types, the same as JSON keys of bench.Timing
const (
	SingleThreaded = "single_threaded"
	MultiThreaded  = "multi_threaded"
)

// ThreadTypes lists thread types in the order reports are made
var ThreadTypes = []string{SingleThreaded, MultiThreaded}

// table is a loaded set of results, one per series
type table struct {
	series     []Series
	results    []bench.Results
	operations []string // benchmark order first, then unknown operations in file order
}

func newTable(series []Series, results []bench.Results) table {
	res := table{series: series, results: results}
	seen := map[string]bool{}
	for _, op := range bench.Operations {
		for _, r := range results {
			if _, ok := r.Get(op); ok {
				res.operations = append(res.operations, op)
				seen[op] = true
				break
			}
		}
	}
	for _, r := range results {
		for _, op := range r {
			if !seen[op.Name] {
				res.operations = append(res.operations, op.Name)
				seen[op.Name] = true
			}
		}
	}
	return res
}

// value returns ms per operation of the series, false if series has no such operation
func (t table) value(series int, op, thread string) (float64, bool) {
	timing, ok := t.results[series].Get(op)
	if !ok {
		return 0, false
	}
	switch thread {
	case SingleThreaded:
		return timing.SingleThreaded, true
	case MultiThreaded:
		return timing.MultiThreaded, true
	}
	return 0, false
}

// writeMarkdown writes operation by series tables for every thread type, missing values shown as "-".
// The fastest series of each operation is in bold.
func (t table) writeMarkdown(w io.Writer, title string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Benchmark: %s\n\nTime in milliseconds per operation, lower is better.\n", title)

	names := make([]string, 0, len(t.series))
	for _, s := range t.series {
		names = append(names, s.Name)
	}
	for _, thread := range ThreadTypes {
		fmt.Fprintf(&sb, "\n## %s\n\n", threadTitle(thread))
		sb.WriteString("| Operation | " + strings.Join(names, " | ") + " |\n")
		sb.WriteString("|---" + strings.Repeat("|---:", len(names)) + "|\n")
		for _, op := range t.operations {
			cells := make([]string, len(t.series))
			var values []float64
			for i := range t.series {
				if v, ok := t.value(i, op, thread); ok {
					values = append(values, v)
				}
			}
			for i := range t.series {
				v, ok := t.value(i, op, thread)
				switch {
				case !ok:
					cells[i] = "-"
				case len(values) > 1 && v == slices.Min(values):
					cells[i] = fmt.Sprintf("**%.3f**", v)
				default:
					cells[i] = fmt.Sprintf("%.3f", v)
				}
			}
			sb.WriteString("| " + op + " | " + strings.Join(cells, " | ") + " |\n")
		}
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}
