// Command taskrun-demo exercises the task/pool/container runtime: it
// loads a file of records on a pool worker, optionally filters them, and
// prints a preview.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fathomlabs/taskrun/pkg/config"
	"github.com/fathomlabs/taskrun/pkg/container"
	"github.com/fathomlabs/taskrun/pkg/driver"
	"github.com/fathomlabs/taskrun/pkg/logging"
	"github.com/fathomlabs/taskrun/pkg/pool"
	"github.com/fathomlabs/taskrun/pkg/status"
)

func main() {
	var (
		configFile   = flag.String("config", "", "Configuration file path")
		input        = flag.String("input", "", "Path to a whitespace-separated record file (required)")
		containerID  = flag.Uint64("id", 1, "Backing file ID for the container")
		removeEven   = flag.Bool("filter-even", false, "Remove records whose ID is even")
		printFirst   = flag.Int("print", 10, "Number of leading records to print")
		workers      = flag.Int("workers", 0, "Number of pool workers (overrides config)")
		statusAddr   = flag.String("status-addr", "", "Address for the status HTTP/WebSocket/metrics server (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskrun-demo: config: %v\n", err)
		os.Exit(1)
	}
	if *workers != 0 {
		cfg.WorkerCount = *workers
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}

	level, err := logging.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskrun-demo: %v\n", err)
		os.Exit(1)
	}
	format, err := logging.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskrun-demo: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  level,
		Format: format,
		Output: os.Stdout,
	}).WithTag("main")

	if cfg.SpillThreshold > 0 {
		container.SpillThreshold = cfg.SpillThreshold
	}

	if *input == "" {
		logger.Error("missing required -input flag")
		flag.Usage()
		os.Exit(1)
	}

	p := pool.New(cfg.WorkerCount, logger)
	defer p.Close()

	var statusServer *status.Server
	stopBroadcast := make(chan struct{})
	var lastResult driver.Result
	if cfg.StatusAddr != "" {
		statusServer = status.NewServer(logger, status.SnapshotFromPool(
			p, cfg.WorkerCount,
			func() int { return lastResult.Remaining },
			func() int { return lastResult.Loaded },
		))
		go func() {
			if err := statusServer.ListenAndServe(cfg.StatusAddr); err != nil {
				logger.Errorf("status server error: %v", err)
			}
		}()
		go statusServer.RunBroadcastLoop(250*time.Millisecond, stopBroadcast)
		defer close(stopBroadcast)
	}

	opts := driver.Options{
		InputPath:        *input,
		ContainerID:      *containerID,
		PrintFirst:       *printFirst,
		VerifyMigrations: cfg.VerifyMigrations,
	}
	if *removeEven {
		opts.Filter = func(r container.Record) bool { return r.ID%2 == 0 }
	}

	result, err := driver.Run(p, logger, opts)
	if err != nil {
		logger.Errorf("run failed: %v", err)
		os.Exit(1)
	}
	lastResult = result

	logger.Infof("loaded %d records, %d remaining after filtering (%d removed)",
		result.Loaded, result.Remaining, result.Removed)
	for i, r := range result.Preview {
		fmt.Printf("%d: id=%d x=%.3f y=%.3f z=%.3f\n", i, r.ID, r.X, r.Y, r.Z)
	}
}
