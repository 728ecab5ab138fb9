// Package driver implements the example workload that exercises the
// task/pool/container runtime end to end: read a file of records,
// load it into a container on a pool worker, optionally filter it, and
// report the outcome. cmd/taskrun-demo is a thin flag-parsing shell
// around this package.
package driver

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fathomlabs/taskrun/pkg/container"
	"github.com/fathomlabs/taskrun/pkg/logging"
	"github.com/fathomlabs/taskrun/pkg/pool"
	"github.com/fathomlabs/taskrun/pkg/task"
)

// Options configures one run of the demo workload.
type Options struct {
	InputPath        string
	ContainerID      uint64
	Filter           func(container.Record) bool
	PrintFirst       int
	VerifyMigrations bool
}

// Result summarizes a completed run for the caller to report.
type Result struct {
	Loaded    int
	Remaining int
	Removed   int
	Preview   []container.Record
}

// Run reads opts.InputPath, loads its records into a fresh Container on
// a pool worker, applies opts.Filter if set, and returns a Result
// describing what happened. The container is always closed before Run
// returns, matching the original's RAII-scoped DataContainer lifetime.
func Run(p *pool.Pool, logger *logging.Logger, opts Options) (Result, error) {
	records, err := readRecords(opts.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("driver: read input: %w", err)
	}

	outcome := task.New("load", logger, func(y *task.Yield) Result {
		y.Schedule(p)

		c := container.New(opts.ContainerID,
			container.WithLogger(logger),
			container.WithVerifyMigrations(opts.VerifyMigrations),
		)
		defer c.Close()

		for _, r := range records {
			if err := c.Push(r); err != nil {
				logger.Fatalf("failed to push record: %v", err)
			}
		}

		loaded := c.Len()
		removed := 0
		if opts.Filter != nil {
			removed = c.RemoveIf(opts.Filter)
		}

		n := opts.PrintFirst
		if n > c.Len() {
			n = c.Len()
		}
		preview := make([]container.Record, 0, n)
		for i := 0; i < n; i++ {
			preview = append(preview, *c.At(i))
		}

		return Result{
			Loaded:    loaded,
			Remaining: c.Len(),
			Removed:   removed,
			Preview:   preview,
		}
	})

	return task.SyncWait(outcome), nil
}

// readRecords parses a whitespace-separated text file of records, three
// floats per line, assigning each line's 0-based line number as its ID.
func readRecords(path string) ([]container.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []container.Record
	scanner := bufio.NewScanner(f)
	var lineNo uint64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid x: %w", lineNo, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid y: %w", lineNo, err)
		}
		z, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid z: %w", lineNo, err)
		}
		records = append(records, container.Record{ID: lineNo, X: x, Y: y, Z: z})
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
