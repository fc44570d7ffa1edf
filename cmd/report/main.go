package main

import (
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"

	"github.com/go-taskbench/taskbench/app/report"
)

var opts struct {
	Config string `short:"c" long:"config" env:"REPORT_CONFIG" description:"report yaml config, results are discovered in --dir if not set"`
	Dir    string `short:"d" long:"dir" env:"REPORT_DIR" default:"." description:"directory with benchmark results"`
	OutDir string `short:"o" long:"out-dir" env:"REPORT_OUT_DIR" default:"." description:"directory for charts and table"`
	Dbg    bool   `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("taskbench report %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs(opts.Dbg)

	files, err := run()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(f)
	}
}

func run() ([]string, error) {
	var cfg report.Config
	var err error
	if opts.Config != "" {
		cfg, err = report.LoadConfig(opts.Config)
	} else {
		cfg, err = report.Discover(opts.Dir)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] report config %+v", cfg)

	gen, err := report.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return gen.Run(opts.OutDir)
}

func setupLogs(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return
	}
	log.Setup(log.Msec)
}
