// run.go - run and state subcommands
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var traceFile string
	cmd := &cobra.Command{
		Use:   "run [image]",
		Short: "Load a flat binary image and run it until it stops",
		Args:  cobra.MaximumNArgs(1),
	}
	mf := addMachineFlags(cmd)
	cmd.Flags().StringVar(&traceFile, "trace-file", "", "write the trace log here instead of stdout")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		image := ""
		if len(args) == 1 {
			image = args[0]
		}
		if image == "" && mf.configPath == "" {
			return fmt.Errorf("no image given and no --config")
		}

		traceOut, closeTrace, err := openTrace(traceFile)
		if err != nil {
			return err
		}
		defer closeTrace()

		m, err := mf.build(image, traceOut)
		if err != nil {
			return err
		}
		defer m.Close()

		return runMachine(cmd.Context(), m, stdout)
	}
	return cmd
}

func newStateCmd() *cobra.Command {
	var (
		traceFile string
		saveFile  string
	)
	cmd := &cobra.Command{
		Use:   "state <file>",
		Short: "Load a text machine state, run it and save the final state",
		Args:  cobra.ExactArgs(1),
	}
	mf := addMachineFlags(cmd)
	cmd.Flags().StringVar(&traceFile, "trace-file", "", "write the trace log here instead of stdout")
	cmd.Flags().StringVarP(&saveFile, "output", "o", "", "write the final state here (\"-\" for stdout)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		traceOut, closeTrace, err := openTrace(traceFile)
		if err != nil {
			return err
		}
		defer closeTrace()

		m, err := mf.build("", traceOut)
		if err != nil {
			return err
		}
		defer m.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		err = m.cpu.LoadState(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		runErr := runMachine(cmd.Context(), m, stdout)

		switch saveFile {
		case "":
		case "-":
			if err := m.cpu.SaveState(stdout); err != nil {
				return err
			}
		default:
			out, err := os.Create(saveFile)
			if err != nil {
				return err
			}
			if err := m.cpu.SaveState(out); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
		return runErr
	}
	return cmd
}

// openTrace returns the trace destination and a function closing it.
func openTrace(path string) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// runMachine runs m until it stops or the process is interrupted, then
// reports the stop and the requested dump sections. A fault stop gives
// exit status 2.
func runMachine(ctx context.Context, m *machine, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.cpu.Stop()
		case <-done:
		}
	}()

	log.WithField("entry", csip(m.cpu)).Debug("run start")
	reason := m.cpu.Run(m.flags)
	m.cpu.ClearLog(true)

	printStop(w, m.cpu, reason)
	if m.dump != 0 {
		m.cpu.Dump(w, m.dump)
	}
	if m.check != nil && m.check.Err() != nil {
		return m.check.Err()
	}
	if reason.Fault() {
		return &exitError{code: 2}
	}
	return nil
}
