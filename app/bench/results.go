package bench

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ResultsFilePrefix is the file name prefix of saved results, followed by the server name
const ResultsFilePrefix = "benchmark_results_"

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Timing is ms per operation for both modes
type Timing struct {
	SingleThreaded float64 `json:"single_threaded"`
	MultiThreaded  float64 `json:"multi_threaded"`
}

// OperationResult is the timing of a single benchmarked operation
type OperationResult struct {
	Name   string
	Timing Timing
}

// Results keeps timings in the order operations were run.
// Marshaled as a JSON object keyed by operation name.
type Results []OperationResult

// Get returns timing for the operation name
func (r Results) Get(name string) (Timing, bool) {
	for _, op := range r {
		if op.Name == name {
			return op.Timing, true
		}
	}
	return Timing{}, false
}

// MarshalJSON implements json.Marshaler, keeps operations order
func (r Results) MarshalJSON() ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, op := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(op.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal operation name: %w", err)
		}
		val, err := json.Marshal(op.Timing)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s timing: %w", op.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeps operations in file order
func (r *Results) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("results must be an object, got %v", tok)
	}

	res := Results{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read operation name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var t Timing
		if err := dec.Decode(&t); err != nil {
			return fmt.Errorf("failed to decode %s timing: %w", name, err)
		}
		res = append(res, OperationResult{Name: name, Timing: t})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to read end of results: %w", err)
	}
	*r = res
	return nil
}

// Save writes results to <dir>/benchmark_results_<server>.json, overwriting existing file.
// Returns the file name.
func (r Results) Save(dir, server string) (string, error) {
	name, err := SanitizeName(server)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	fname := filepath.Join(dir, ResultsFilePrefix+name+".json")
	if err := os.WriteFile(fname, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("failed to save results to %s: %w", fname, err)
	}
	return fname, nil
}

// Print writes a human-readable summary, same lines as printed during the run
func (r Results) Print(w io.Writer) {
	for _, op := range r {
		fmt.Fprintf(w, "\nBenchmarking %s:\n", op.Name)
		fmt.Fprintf(w, "  Single-threaded: %.6f ms per operation\n", op.Timing.SingleThreaded)
		fmt.Fprintf(w, "  Multi-threaded:  %.6f ms per operation\n", op.Timing.MultiThreaded)
	}
}

// LoadResults reads results saved by Save
func LoadResults(fname string) (Results, error) {
	data, err := os.ReadFile(fname) //nolint:gosec // results file name comes from the user
	if err != nil {
		return nil, fmt.Errorf("failed to read results %s: %w", fname, err)
	}
	var res Results
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse results %s: %w", fname, err)
	}
	return res, nil
}

// SanitizeName makes server name usable as a part of file name
func SanitizeName(name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" {
		return "", errors.New("empty server name")
	}
	return unsafeNameRe.ReplaceAllString(name, "_"), nil
}
