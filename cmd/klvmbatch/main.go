// klvmbatch runs a batch of K27 files to completion concurrently, each
// on its own independent CPU instance, and reports a pass/fail summary.
// It is a conformance runner, not a debugger: every file either halts
// cleanly or is reported as failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Fuyukai/kl27"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitFailure = 2
)

type result struct {
	path   string
	cycles uint64
	err    error
}

func main() {
	concurrency := flag.Int("j", 4, "number of programs to run concurrently")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: klvmbatch [options] program.k27 [program.k27 ...]\n\nRuns each K27 file to completion on its own CPU instance.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	paths := flag.Args()
	results := make([]result, len(paths))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrency)

	var mu sync.Mutex
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res := runOne(ctx, path)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	// g.Go's closures never return an error themselves (failures are
	// captured per-file in result.err), so Wait only reports context
	// cancellation, which this runner never triggers.
	_ = g.Wait()

	failed := printReport(results)
	if failed {
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}

func runOne(ctx context.Context, path string) result {
	data, err := os.ReadFile(path)
	if err != nil {
		return result{path: path, err: err}
	}

	cpu, err := kl27.NewCPU(data)
	if err != nil {
		return result{path: path, err: err}
	}

	if err := cpu.SetRunning(); err != nil {
		return result{path: path, err: err}
	}

	for cpu.State() == kl27.Running {
		select {
		case <-ctx.Done():
			return result{path: path, err: ctx.Err()}
		default:
		}
		if _, err := cpu.Step(); err != nil {
			return result{path: path, cycles: cpu.CycleCount(), err: err}
		}
	}

	if cpu.State() == kl27.Errored {
		return result{path: path, cycles: cpu.CycleCount(), err: fmt.Errorf("cpu errored: %s", cpu.LastError())}
	}
	return result{path: path, cycles: cpu.CycleCount()}
}

func printReport(results []result) bool {
	sort.Slice(results, func(i, j int) bool {
		return filepath.Base(results[i].path) < filepath.Base(results[j].path)
	})

	failed := false
	for _, r := range results {
		if r.err != nil {
			failed = true
			fmt.Printf("FAIL %s: %v (%d cycles)\n", r.path, r.err, r.cycles)
			continue
		}
		fmt.Printf("PASS %s (%d cycles)\n", r.path, r.cycles)
	}
	return failed
}
