// Package preflight checks the benchmarking host before a run. A busy host pollutes timings,
// so failed checks are reported as warnings and never stop the benchmark.
package preflight

import (
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Config defines host thresholds, zero value disables a check
type Config struct {
	CPUBelow      int     // cpu usage percent
	MemoryBelow   int     // used memory percent
	LoadAvgBelow  float64 // 1 minute load average
	DiskFreeAbove int     // free disk percent on DiskFreePath
	DiskFreePath  string  // defaults to "/"
	CPUInterval   time.Duration
}

// metric sources, replaced in tests
var (
	cpuPercent = func(interval time.Duration) ([]float64, error) { return cpu.Percent(interval, false) }

	memUsed = func() (float64, error) {
		v, err := mem.VirtualMemory()
		if err != nil {
			return 0, err
		}
		return v.UsedPercent, nil
	}

	loadAvg = func() (float64, error) {
		l, err := load.Avg()
		if err != nil {
			return 0, err
		}
		return l.Load1, nil
	}

	diskUsed = func(path string) (float64, error) {
		u, err := disk.Usage(path)
		if err != nil {
			return 0, err
		}
		return u.UsedPercent, nil
	}
)

// Check runs all enabled checks and returns reasons for the failed ones, empty if host is fine.
// Every failed check is logged as a warning.
func Check(cfg Config) []string {
	var reasons []string
	add := func(ok bool, reason string) {
		if !ok {
			log.Printf("[WARN] preflight, %s", reason)
			reasons = append(reasons, reason)
		}
	}

	if cfg.CPUBelow > 0 {
		interval := cfg.CPUInterval
		if interval <= 0 {
			interval = time.Second
		}
		add(checkCPU(cfg.CPUBelow, interval))
	}
	if cfg.MemoryBelow > 0 {
		add(checkMemory(cfg.MemoryBelow))
	}
	if cfg.LoadAvgBelow > 0 {
		add(checkLoadAvg(cfg.LoadAvgBelow))
	}
	if cfg.DiskFreeAbove > 0 {
		path := cfg.DiskFreePath
		if path == "" {
			path = "/"
		}
		add(checkDiskFree(cfg.DiskFreeAbove, path))
	}

	if len(reasons) == 0 {
		log.Printf("[DEBUG] preflight passed")
	}
	return reasons
}

func checkCPU(threshold int, interval time.Duration) (bool, string) {
	percents, err := cpuPercent(interval)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(percents) == 0 {
		return false, "no CPU data available"
	}
	current := int(percents[0])
	if current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func checkMemory(threshold int) (bool, string) {
	used, err := memUsed()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	if current := int(used); current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func checkLoadAvg(threshold float64) (bool, string) {
	current, err := loadAvg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if current >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", current, threshold)
	}
	return true, ""
}

func checkDiskFree(minFreePercent int, path string) (bool, string) {
	used, err := diskUsed(path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	if free := 100 - int(used); free < minFreePercent {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", free, minFreePercent, path)
	}
	return true, ""
}
