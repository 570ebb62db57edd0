// Command amdcmd-replay records a fixed draw and dispatch workload for
// every chip preset on an in-memory winsys and prints what each recording
// emitted as JSON: stream size, packet counts per opcode, register writes,
// queue requirements and recording time.
//
// Usage:
//
//	amdcmd-replay -chips vega10,navi21 -draws 500 -state
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/amdcmd"
	"github.com/gogpu/amdcmd/internal/gfx"
)

func main() {
	var (
		chips    = flag.String("chips", "", "comma separated chip presets (default all)")
		draws    = flag.Int("draws", 100, "draws recorded per chip")
		parallel = flag.Int("parallel", runtime.GOMAXPROCS(0), "chips recorded concurrently")
		trace    = flag.Bool("trace", false, "allocate a trace buffer and emit trace markers")
		state    = flag.Bool("state", false, "include the final command buffer state dump")
		verbose  = flag.Bool("v", false, "log emission diagnostics to stderr")
		version  = flag.Bool("version", false, "print the amdcmd version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("amdcmd", amdcmd.Version)
		return
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	amdcmd.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	names, err := selectChips(*chips)
	if err != nil {
		fmt.Fprintln(os.Stderr, "amdcmd-replay:", err)
		os.Exit(2)
	}
	results, err := run(context.Background(), names, config{draws: *draws, trace: *trace}, *parallel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "amdcmd-replay:", err)
		os.Exit(1)
	}
	if _, err := os.Stdout.Write(report(results, *state)); err != nil {
		fmt.Fprintln(os.Stderr, "amdcmd-replay:", err)
		os.Exit(1)
	}
	fmt.Println()
}

// selectChips resolves the -chips flag against the preset registry.
func selectChips(list string) ([]string, error) {
	if list == "" {
		return gfx.Names(), nil
	}
	var names []string
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !gfx.IsRegistered(name) {
			return nil, errors.Newf("unknown chip %q (known: %s)", name, strings.Join(gfx.Names(), ", "))
		}
		names = append(names, name)
	}
	return names, nil
}

// run replays every chip, at most parallel at a time. Results keep the
// order of names.
func run(ctx context.Context, names []string, cfg config, parallel int) ([]*result, error) {
	results := make([]*result, len(names))
	sem := semaphore.NewWeighted(int64(max(parallel, 1)))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			r, err := replay(name, cfg)
			if err != nil {
				return err
			}
			amdcmd.Logger().Debug("amdcmd-replay: recorded", "chip", name, "dwords", r.dwords, "elapsed", r.duration)
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
