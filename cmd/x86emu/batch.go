// batch.go - Run many images concurrently, one interpreter each
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/intuitionamiga/x86emu"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type batchResult struct {
	image  string
	reason x86emu.StopReason
	tsc    uint64
	at     string
	err    error
}

func newBatchCmd() *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "batch <image>...",
		Short: "Run several images in parallel and print a summary table",
		Long: "Each image runs on its own interpreter with the same machine flags.\n" +
			"Trace output for an image goes to <image>.trace.",
		Args: cobra.MinimumNArgs(1),
	}
	mf := addMachineFlags(cmd)
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "images run at once")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		results, err := runBatch(ctx, mf, args, jobs)
		if err != nil {
			return err
		}
		faults := printBatch(stdout, results)
		if faults > 0 {
			return &exitError{code: 2, msg: fmt.Sprintf("%d of %d images stopped on a fault", faults, len(results))}
		}
		return nil
	}
	return cmd
}

// runBatch runs every image and returns one result per image in argument
// order. Setup errors are recorded per image; only cancellation aborts the
// whole batch.
func runBatch(ctx context.Context, mf *machineFlags, images []string, jobs int) ([]batchResult, error) {
	results := make([]batchResult, len(images))
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}

	for i, image := range images {
		i, image := i, image
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = runBatchImage(ctx, mf, image)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runBatchImage(ctx context.Context, mf *machineFlags, image string) batchResult {
	res := batchResult{image: image}

	var traceOut io.Writer
	if len(mf.trace) > 0 {
		f, err := os.Create(image + ".trace")
		if err != nil {
			res.err = err
			return res
		}
		defer f.Close()
		traceOut = f
	}

	m, err := mf.build(image, traceOut)
	if err != nil {
		res.err = err
		return res
	}
	defer m.Close()

	stop := context.AfterFunc(ctx, m.cpu.Stop)
	defer stop()

	res.reason = m.cpu.Run(m.flags)
	m.cpu.ClearLog(true)
	res.tsc = m.cpu.TSC
	res.at = csip(m.cpu)
	if m.check != nil {
		res.err = m.check.Err()
	}
	log.WithFields(logrus.Fields{
		"image": image,
		"stop":  res.reason.String(),
		"tsc":   res.tsc,
	}).Debug("batch image done")
	return res
}

// printBatch writes the summary table and returns the number of failed images.
func printBatch(w io.Writer, results []batchResult) int {
	fmt.Fprintf(w, "%-24s %-26s %12s  %s\n", "IMAGE", "STOP", "INSTR", "CS:EIP")
	faults := 0
	for _, r := range results {
		name := filepath.Base(r.image)
		if r.err != nil {
			faults++
			fmt.Fprintf(w, "%-24s %s\n", name, colorFault.Sprint("error: ", r.err))
			continue
		}
		if r.reason.Fault() {
			faults++
		}
		fmt.Fprintf(w, "%-24s %s %12d  %s\n", name, stopColor(r.reason).Sprintf("%-26s", r.reason), r.tsc, r.at)
	}
	return faults
}
