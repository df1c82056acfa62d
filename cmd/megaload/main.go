// go-megaload
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-megaload.
//
// go-megaload is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-megaload is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-megaload; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Command megaload programs AVR microcontrollers running the MegaLoad
// bootloader from an Intel HEX file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZaparooProject/go-megaload"
	"github.com/ZaparooProject/go-megaload/detection"
	"github.com/ZaparooProject/go-megaload/pkg/ihex"
	gpioreset "github.com/ZaparooProject/go-megaload/reset/gpio"
	"github.com/ZaparooProject/go-megaload/transport/dump"
	"github.com/ZaparooProject/go-megaload/transport/tty"
	"github.com/ZaparooProject/go-megaload/transport/uart"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	defaultDumpPath = "dump.txt"

	transportUART = "uart"
	transportTTY  = "tty"
)

type config struct {
	port           string
	sendReset      string
	gpioReset      string
	transport      string
	dumpPath       string
	timeout        float64
	baud           int
	dtrReset       bool
	strictChecksum bool
	verbose        bool
	debug          bool
	logFile        bool
}

func (c *config) validate() error {
	if c.transport != transportUART && c.transport != transportTTY {
		return usageError{fmt.Errorf("unknown transport %q, want %s or %s", c.transport, transportUART, transportTTY)}
	}
	if c.timeout <= 0 {
		return usageError{fmt.Errorf("timeout must be positive, got %g", c.timeout)}
	}
	if c.baud <= 0 {
		return usageError{fmt.Errorf("baud rate must be positive, got %d", c.baud)}
	}
	return nil
}

func (c *config) connectTimeout() time.Duration {
	return time.Duration(c.timeout * float64(time.Second))
}

// usageError marks errors in the command line itself.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		return megaload.CategoryUsage.ExitCode()
	}
	if code := megaload.Classify(err).ExitCode(); code != 0 {
		return code
	}
	return megaload.CategoryGeneric.ExitCode()
}

// app holds the I/O seams of the command.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	open      func(cfg *config) (megaload.Transport, error)
	listPorts func(opts detection.Options) ([]detection.PortInfo, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:    stdout,
		stderr:    stderr,
		open:      openTransport,
		listPorts: detection.ListPorts,
	}
}

func (a *app) newRootCmd() *cobra.Command {
	cfg := &config{}

	cmd := &cobra.Command{
		Use:   "megaload [flags] prog.hex",
		Short: "Program AVR microcontrollers through the MegaLoad bootloader",
		Long: `Programs the flash of an AVR microcontroller running a MegaLoad v3, v4 or
v5 bootloader from an Intel HEX file.

Examples:
  megaload -p /dev/ttyUSB0 -b 115200 blink.hex       # wait for a manual reset
  megaload --dtr-reset -V blink.hex                  # auto-reset board, show progress
  megaload -s '\x1bboot\r' blink.hex                  # ask the application to reboot
  megaload -D blink.hex                              # dry run, writes dump.txt
  megaload ports                                     # list USB serial ports`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{fmt.Errorf("expected one HEX file, got %d arguments", len(args))}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cfg, args[0])
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := cmd.Flags()
	flags.StringVarP(&cfg.port, "port", "p", megaload.DefaultPort, "serial device")
	flags.IntVarP(&cfg.baud, "baud-rate", "b", megaload.DefaultBaudRate, "baud rate")
	flags.Float64VarP(&cfg.timeout, "timeout", "t", megaload.DefaultConnectTimeout.Seconds(), "seconds to wait for the bootloader")
	flags.StringVarP(&cfg.sendReset, "send-reset", "s", "", "C-style escaped string written before connecting")
	flags.BoolVar(&cfg.dtrReset, "dtr-reset", false, "pulse DTR before connecting")
	flags.StringVar(&cfg.gpioReset, "gpio-reset", "", "pulse this GPIO pin (periph.io name) before connecting")
	flags.StringVar(&cfg.transport, "transport", transportUART, "uart | tty")
	flags.BoolVar(&cfg.strictChecksum, "strict-checksum", false, "treat HEX record checksum errors as fatal")
	flags.BoolVarP(&cfg.verbose, "verbose", "V", false, "progress output")
	flags.BoolVarP(&cfg.debug, "debug", "D", false, "dry run: dump pages to dump.txt, no device I/O")
	flags.BoolVar(&cfg.logFile, "log-file", false, "write a session debug log")
	flags.StringVar(&cfg.dumpPath, "dump-file", defaultDumpPath, "dry run output file")
	_ = flags.MarkHidden("dump-file")

	cmd.AddCommand(a.newPortsCmd())
	return cmd
}

func (a *app) run(ctx context.Context, cfg *config, hexPath string) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.logFile {
		path, err := megaload.InitSessionLog()
		if err != nil {
			return err
		}
		defer func() { _ = megaload.CloseSessionLog() }()
		_, _ = fmt.Fprintf(a.stdout, "Session log: %s\n", path)
	}

	policy := ihex.ChecksumWarn
	if cfg.strictChecksum {
		policy = ihex.ChecksumStrict
	}
	img, err := ihex.DecodeFile(hexPath, ihex.WithChecksumPolicy(policy))
	if err != nil {
		return err
	}
	for _, w := range img.Warnings {
		_, _ = fmt.Fprintf(a.stderr, "warning: %s: %v\n", hexPath, w)
	}

	progress := &progressReporter{out: a.stdout}
	opts := []megaload.ProgramOption{
		megaload.WithProfileHook(func(p *megaload.DeviceProfile) {
			_, _ = fmt.Fprintf(a.stdout, "\n%s\n", p)
		}),
	}
	if cfg.verbose {
		opts = append(opts, megaload.WithTransferOptions(megaload.WithProgress(progress.update)))
	}

	var t megaload.Transport
	if cfg.debug {
		d, err := dump.Create(cfg.dumpPath, megaload.DryRunProfile().PageSize)
		if err != nil {
			return err
		}
		t = d
		opts = append(opts, megaload.WithProfile(megaload.DryRunProfile()))
		_, _ = fmt.Fprintf(a.stdout, "Dry run: writing pages to %s", cfg.dumpPath)
	} else {
		resetter, err := cfg.resetter()
		if err != nil {
			return err
		}
		t, err = a.open(cfg)
		if err != nil {
			if errors.Is(err, megaload.ErrDeviceNotFound) {
				a.suggestPorts()
			}
			return err
		}

		negotiateOpts := []megaload.NegotiateOption{megaload.WithConnectTimeout(cfg.connectTimeout())}
		if cfg.verbose {
			negotiateOpts = append(negotiateOpts, megaload.WithIdleHook(func() {
				_, _ = fmt.Fprint(a.stdout, ".")
			}))
		}
		opts = append(opts,
			megaload.WithResetter(resetter),
			megaload.WithNegotiateOptions(negotiateOpts...))
		_, _ = fmt.Fprintf(a.stdout, "Waiting for the bootloader on %s", cfg.port)
	}
	defer func() {
		if err := t.Close(); err != nil {
			_, _ = fmt.Fprintf(a.stderr, "Failed to close %s: %v\n", t.Type(), err)
		}
	}()

	res, err := megaload.Program(ctx, t, img, opts...)
	progress.finish()
	if err != nil {
		_, _ = fmt.Fprintln(a.stdout)
		return err
	}

	_, _ = fmt.Fprintf(a.stdout, "Flash programmed: %d pages written, %d skipped, %d retries\n",
		res.Stats.Written, res.Stats.Skipped, res.Stats.Retries)
	return nil
}

// resetter builds the reset steps the flags ask for, in the order a reset
// sequence, a DTR pulse, a GPIO pulse.
func (c *config) resetter() (megaload.Resetter, error) {
	seq, err := megaload.ParseResetSequence(c.sendReset)
	if err != nil {
		return nil, usageError{err}
	}

	var resets megaload.MultiReset
	if len(seq) > 0 {
		resets = append(resets, megaload.SequenceReset(seq))
	}
	if c.dtrReset {
		resets = append(resets, megaload.DTRReset{})
	}
	if c.gpioReset != "" {
		r, err := gpioreset.New(c.gpioReset)
		if err != nil {
			return nil, fmt.Errorf("failed to set up gpio reset: %w", err)
		}
		resets = append(resets, r)
	}
	return resets, nil
}

// openTransport opens the serial device with the selected transport.
func openTransport(cfg *config) (megaload.Transport, error) {
	switch cfg.transport {
	case transportTTY:
		t, err := tty.New(cfg.port, tty.WithBaudRate(cfg.baud))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.port, err)
		}
		return t, nil
	default:
		t, err := uart.New(cfg.port, uart.WithBaudRate(cfg.baud))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.port, err)
		}
		return t, nil
	}
}

// suggestPorts lists candidate ports after the requested one was not found.
func (a *app) suggestPorts() {
	ports, err := a.listPorts(detection.DefaultOptions())
	if err != nil || len(ports) == 0 {
		return
	}
	_, _ = fmt.Fprintln(a.stderr, "Available serial ports:")
	for _, p := range ports {
		_, _ = fmt.Fprintf(a.stderr, "  %s\n", p)
	}
}

func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.newRootCmd()
	if args == nil {
		// cobra falls back to os.Args for nil
		args = []string{}
	}
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newApp(os.Stdout, os.Stderr).execute(ctx, os.Args[1:])
}
