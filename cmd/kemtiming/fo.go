// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/spf13/cobra"

	"github.com/katzenpost/kemtiming/campaign"
)

func newFOCommand(a *app) *cobra.Command {
	m := new(measurementFlags)
	cmd := &cobra.Command{
		Use:   "fo",
		Short: "Baselines of the Fujisaki-Okamoto re-encryption check",
	}
	m.register(cmd)

	var interleaved bool
	baseline := &cobra.Command{
		Use:   "baseline",
		Short: "Time a ciphertext unmodified, with a minor and with a major modification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configure(cmd, m); err != nil {
				return err
			}
			opts, err := a.campaignOptions()
			if err != nil {
				return err
			}
			opts.Interleaved = interleaved
			_, err = campaign.FOBaseline(cmd.Context(), opts)
			return err
		},
	}
	baseline.Flags().BoolVar(&interleaved, "interleaved", false, "measure minor and major modifications round robin over --keys key pairs")

	cmd.AddCommand(baseline)
	return cmd
}
