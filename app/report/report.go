package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"

	"github.com/go-taskbench/taskbench/app/bench"
)

// Generator renders charts and summary table for a config
type Generator struct {
	cfg Config
}

// NewGenerator makes a generator, config is expected to come from LoadConfig or Discover
func NewGenerator(cfg Config) (*Generator, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg}, nil
}

// Run loads all series results and writes <output>_<thread_type>.svg for each thread type
// and <output>.md summary to outDir. Returns names of written files.
func (g *Generator) Run(outDir string) ([]string, error) {
	results := make([]bench.Results, 0, len(g.cfg.Series))
	for _, s := range g.cfg.Series {
		res, err := bench.LoadResults(s.File)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.Name, err)
		}
		results = append(results, res)
	}
	tbl := newTable(g.cfg.Series, results)
	if len(tbl.operations) == 0 {
		return nil, errors.New("no operations in results")
	}

	var files []string
	for _, thread := range ThreadTypes {
		buf := bytes.Buffer{}
		title := fmt.Sprintf("Benchmark: %s - %s", g.cfg.Title, threadTitle(thread))
		if err := renderChart(&buf, title, g.cfg.YMax, tbl, thread); err != nil {
			return nil, err
		}
		fname := filepath.Join(outDir, g.cfg.Output+"_"+thread+".svg")
		if err := writeFile(fname, buf.Bytes()); err != nil {
			return nil, err
		}
		log.Printf("[INFO] %s bar chart saved as %s", threadTitle(thread), fname)
		files = append(files, fname)
	}

	buf := bytes.Buffer{}
	if err := tbl.writeMarkdown(&buf, g.cfg.Title); err != nil {
		return nil, err
	}
	fname := filepath.Join(outDir, g.cfg.Output+".md")
	if err := writeFile(fname, buf.Bytes()); err != nil {
		return nil, err
	}
	log.Printf("[INFO] summary table saved as %s", fname)
	return append(files, fname), nil
}

func writeFile(fname string, data []byte) error {
	if err := os.WriteFile(fname, data, 0o644); err != nil { //nolint:gosec // reports are meant to be shared
		return fmt.Errorf("failed to write %s: %w", fname, err)
	}
	return nil
}
