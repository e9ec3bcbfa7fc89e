// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// kemtiming mounts timing side channel attacks against KEM decapsulation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/common"
	"github.com/katzenpost/kemtiming/config"
	"github.com/katzenpost/kemtiming/core/log"
	"github.com/katzenpost/kemtiming/internal/instrument"
	"github.com/katzenpost/kemtiming/internal/profiling"
)

// app is the state shared by every subcommand once the root command ran.
type app struct {
	configFile string
	logLevel   string
	logFile    string
	metrics    string
	profile    bool

	cfg         *config.Config
	backend     *log.Backend
	log         *logging.Logger
	stopProfile func()
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kemtiming",
		Short: "Timing side channel attacks against KEM decapsulation",
		Long: `kemtiming measures decapsulation latency to recover secret key material.

It attacks the early-exit re-encryption comparison of FrodoKEM by
searching, per coefficient of the ciphertext matrix C, for the smallest
modification that changes the decoded message, and the variable-time
rejection sampling of HQC style KEMs by timing plaintexts that induce
many or few rejected draws.`,
		Example: `  # Recover the last row of a fresh FrodoKEM-640 key using the model oracle
  kemtiming frodo crack-s --source oracle --encaps 4

  # Collect plaintexts by rejection count for four hours
  kemtiming rs collect --kem HQC-128-model --stop-after 4h

  # Rerun an attack binary 1000 times
  kemtiming gather --binary ./attack --trials 1000`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&a.configFile, "config", "f", "", "path to a TOML configuration file")
	f.StringVar(&a.logLevel, "log-level", "", "log level: ERROR, WARNING, NOTICE, INFO or DEBUG")
	f.StringVar(&a.logFile, "log-file", "", "log to this file instead of stdout")
	f.StringVar(&a.metrics, "metrics", "", "serve Prometheus metrics on this address")
	f.BoolVar(&a.profile, "profile", false, "enable continuous profiling")

	cmd.AddCommand(
		newFrodoCommand(a),
		newFOCommand(a),
		newRSCommand(a),
		newGatherCommand(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	var err error
	if a.configFile != "" {
		a.cfg, err = config.LoadFile(a.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config file '%v': %v", a.configFile, err)
		}
	} else {
		a.cfg = config.Default()
	}

	f := cmd.Flags()
	if f.Changed("log-level") {
		a.cfg.Logging.Level = a.logLevel
	}
	if f.Changed("log-file") {
		a.cfg.Logging.File = a.logFile
	}
	if f.Changed("metrics") {
		a.cfg.Metrics.Address = a.metrics
	}
	if f.Changed("profile") {
		a.cfg.Profiling.Enable = a.profile
	}
	if err := a.cfg.FixupAndValidate(); err != nil {
		return err
	}

	a.backend, err = log.New(a.cfg.Logging.File, a.cfg.Logging.Level, a.cfg.Logging.Disable)
	if err != nil {
		return err
	}
	a.log = a.backend.GetLogger("kemtiming")

	if err := instrument.Init(a.cfg.Metrics.Address); err != nil {
		return fmt.Errorf("failed to start metrics listener: %v", err)
	}
	if a.cfg.Metrics.Address != "" {
		a.log.Noticef("Serving metrics on http://%s/metrics", a.cfg.Metrics.Address)
	}
	if a.cfg.Profiling.Enable {
		a.stopProfile, err = profiling.Start(a.log, map[string]string{
			"command": cmd.CommandPath(),
			"kem":     a.cfg.Measurement.KEM,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	if a.stopProfile != nil {
		a.stopProfile()
	}
	if a.backend != nil {
		a.backend.Close()
	}
}

// handleSignals cancels the returned context on the first SIGINT or
// SIGTERM and exits with status 1 on the second.  SIGHUP reopens the log.
func (a *app) handleSignals() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	haltCh := make(chan os.Signal, 2)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	go func() {
		<-haltCh
		if a.log != nil {
			a.log.Notice("Received a termination signal, shutting down gracefully; signal again to exit immediately.")
		}
		cancel()
		<-haltCh
		os.Exit(1)
	}()
	go func() {
		for range rotateCh {
			if a.backend == nil {
				continue
			}
			if err := a.backend.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "kemtiming: failed to rotate log: %v\n", err)
			}
		}
	}()

	return ctx, func() {
		signal.Stop(haltCh)
		signal.Stop(rotateCh)
		cancel()
	}
}

func main() {
	a := new(app)
	ctx, stop := a.handleSignals()
	err := common.ExecuteWithFang(ctx, newRootCommand(a))
	stop()
	a.close()
	os.Exit(common.ExitCode(err))
}
