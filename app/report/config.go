// Package report renders comparison charts and tables from saved benchmark results
// of several server implementations.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/go-taskbench/taskbench/app/bench"
)

//go:generate go run ./internal/schema schema.json

// defaults for Config
const (
	DefaultYMax   = 3.0
	DefaultOutput = "webserver_benchmark"
)

// Palette is used for series without color, in order
var Palette = []string{"navy", "darkred", "seagreen", "darkorange", "purple", "teal", "saddlebrown", "slategray"}

// Series is a single server implementation on the chart
type Series struct {
	Name  string `yaml:"name" json:"name" jsonschema:"required,description=label of the series on charts and tables"`
	File  string `yaml:"file" json:"file" jsonschema:"required,description=results file made by the benchmark"`
	Color string `yaml:"color,omitempty" json:"color,omitempty" jsonschema:"description=SVG color of bars"`
}

// Config defines what to render
type Config struct {
	Title  string   `yaml:"title,omitempty" json:"title,omitempty" jsonschema:"description=chart title prefix"`
	YMax   float64  `yaml:"y_max,omitempty" json:"y_max,omitempty" jsonschema:"description=upper limit of Y axis in ms,minimum=0"`
	Output string   `yaml:"output,omitempty" json:"output,omitempty" jsonschema:"description=output file name prefix"`
	Series []Series `yaml:"series" json:"series" jsonschema:"required,minItems=1"`
}

// LoadConfig reads YAML config. Relative series files are resolved against the config location.
func LoadConfig(fname string) (Config, error) {
	data, err := os.ReadFile(fname) //nolint:gosec // config file name comes from the user
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", fname, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", fname, err)
	}

	dir := filepath.Dir(fname)
	for i, s := range cfg.Series {
		if s.File != "" && !filepath.IsAbs(s.File) {
			cfg.Series[i].File = filepath.Join(dir, s.File)
		}
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", fname, err)
	}
	return cfg, nil
}

// Discover makes config from all results files in dir, series named by the file name suffix
func Discover(dir string) (Config, error) {
	files, err := filepath.Glob(filepath.Join(dir, bench.ResultsFilePrefix+"*.json"))
	if err != nil {
		return Config{}, fmt.Errorf("failed to list results in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no %s*.json files in %s", bench.ResultsFilePrefix, dir)
	}
	sort.Strings(files)

	cfg := Config{}
	for _, f := range files {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(f), bench.ResultsFilePrefix), ".json")
		cfg.Series = append(cfg.Series, Series{Name: name, File: f})
	}
	cfg.setDefaults()
	return cfg, cfg.Validate()
}

// Validate checks config, expects defaults already set
func (c Config) Validate() error {
	if len(c.Series) == 0 {
		return errors.New("at least one series is required")
	}
	if c.YMax <= 0 || math.IsInf(c.YMax, 0) || math.IsNaN(c.YMax) {
		return fmt.Errorf("y_max must be positive and finite, got %v", c.YMax)
	}
	if strings.ContainsAny(c.Output, `/\`) {
		return fmt.Errorf("output %q must be a file name prefix, not a path", c.Output)
	}
	names := map[string]bool{}
	for i, s := range c.Series {
		if s.Name == "" {
			return fmt.Errorf("series %d: name is required", i+1)
		}
		if s.File == "" {
			return fmt.Errorf("series %d: file is required", i+1)
		}
		if names[s.Name] {
			return fmt.Errorf("series %d: duplicate name %q", i+1, s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.YMax == 0 {
		c.YMax = DefaultYMax
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Title == "" {
		names := make([]string, 0, len(c.Series))
		for _, s := range c.Series {
			names = append(names, s.Name)
		}
		c.Title = strings.Join(names, " vs ")
	}
	for i := range c.Series {
		if c.Series[i].Color == "" {
			c.Series[i].Color = Palette[i%len(Palette)]
		}
	}
}

// GenerateSchema generates a JSON schema for the Config struct
func GenerateSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
