// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/kemtiming/campaign"
)

func newFrodoCommand(a *app) *cobra.Command {
	m := new(measurementFlags)
	cmd := &cobra.Command{
		Use:   "frodo",
		Short: "Attacks on the FrodoKEM re-encryption comparison",
	}
	m.register(cmd)

	crack := &cobra.Command{
		Use:   "crack-s",
		Short: "Recover the last row of the decoding error coordinate by coordinate",
		Long: `crack-s searches, for every coefficient of the last row of C, the
smallest modification that makes the first re-encryption comparison fail.
With a model oracle every recovered value is checked against the secret
key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configure(cmd, m); err != nil {
				return err
			}
			opts, err := a.campaignOptions()
			if err != nil {
				return err
			}
			report, err := campaign.CrackS(cmd.Context(), opts)
			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s, success rate %.1f%%\n", report, report.SuccessRate())
			}
			return err
		},
	}

	baseline := &cobra.Command{
		Use:   "baseline",
		Short: "Time unmodified and byte-flipped ciphertexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configure(cmd, m); err != nil {
				return err
			}
			opts, err := a.campaignOptions()
			if err != nil {
				return err
			}
			_, err = campaign.MemcmpBaseline(cmd.Context(), opts)
			return err
		},
	}

	profile := &cobra.Command{
		Use:   "profile",
		Short: "Estimate the latency threshold of a single coordinate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configure(cmd, m); err != nil {
				return err
			}
			opts, err := a.campaignOptions()
			if err != nil {
				return err
			}
			res, err := campaign.Profile(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "threshold %d cutoff %d low %d high %d\n", res.Threshold, res.Cutoff, res.Low, res.High)
			return nil
		},
	}

	var coords []int
	multipoint := &cobra.Command{
		Use:   "multipoint",
		Short: "Record every decapsulation checkpoint for minor and major modifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configure(cmd, m); err != nil {
				return err
			}
			opts, err := a.campaignOptions()
			if err != nil {
				return err
			}
			_, err = campaign.Multipoint(cmd.Context(), &campaign.MultipointOptions{
				Options:     *opts,
				Coordinates: coords,
			})
			return err
		},
	}
	multipoint.Flags().IntSliceVar(&coords, "coordinates", nil, "coefficients of C to modify")

	cmd.AddCommand(crack, baseline, profile, multipoint)
	return cmd
}
