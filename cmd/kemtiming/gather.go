// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/kemtiming/gather"
)

func newGatherCommand(a *app) *cobra.Command {
	var (
		binary    string
		trials    int
		workers   int
		output    string
		lastLines int
	)
	cmd := &cobra.Command{
		Use:   "gather [flags] -- [attack args...]",
		Short: "Run an attack binary repeatedly and tabulate its results",
		Long: `gather runs the attack binary --trials times on --workers concurrent
workers, parses the success flag, oracle call count and wrong bit count
from the end of every run, and writes one CSV row per trial.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.cfg.Gather
			f := cmd.Flags()
			if f.Changed("binary") {
				c.Binary = binary
			}
			if f.Changed("trials") {
				c.Trials = trials
			}
			if f.Changed("workers") {
				c.Workers = workers
			}
			if f.Changed("output") {
				c.Output = output
			}
			if f.Changed("last-lines") {
				c.LastLines = lastLines
			}
			if len(args) > 0 {
				c.Args = args
			}
			if err := a.cfg.FixupAndValidate(); err != nil {
				return err
			}
			if c.Output == "" {
				c.Output = fmt.Sprintf("gather-%d.csv", c.Trials)
			}

			stderr, err := a.backend.GetLogWriter("attack", "DEBUG")
			if err != nil {
				return err
			}
			summary, err := gather.Run(cmd.Context(), &gather.Options{
				Binary:    c.Binary,
				Args:      c.Args,
				Trials:    c.Trials,
				Workers:   c.Workers,
				Out:       c.Output,
				LastLines: c.LastLines,
				Stderr:    stderr,
				Log:       a.backend.GetLogger("gather"),
			})
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s, %.1f oracle calls on average\n", summary, summary.MeanOracleCalls())
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&binary, "binary", "b", "", "attack executable")
	f.IntVarP(&trials, "trials", "n", 0, "number of runs")
	f.IntVarP(&workers, "workers", "w", 0, "concurrent runs, the CPU count if zero")
	f.StringVarP(&output, "output", "o", "", "results CSV")
	f.IntVar(&lastLines, "last-lines", 0, "output lines kept per run")
	return cmd
}
