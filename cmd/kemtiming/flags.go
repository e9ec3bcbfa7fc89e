// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/spf13/cobra"

	"github.com/katzenpost/kemtiming/campaign"
	"github.com/katzenpost/kemtiming/config"
	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/kem/schemes"
)

// measurementFlags override the Measurement, Search and Campaign sections.
type measurementFlags struct {
	kem        string
	innerKEM   string
	source     string
	prepper    string
	warmup     int
	iterations int
	profile    int
	encaps     int
	keys       int
	coordinate int
	output     string
}

func (m *measurementFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&m.kem, "kem", "k", "", "KEM to attack, an instrumented model or any hpqc scheme")
	f.StringVar(&m.innerKEM, "inner-kem", "", "hpqc scheme wrapped by the fixed-weight models")
	f.StringVarP(&m.source, "source", "s", "", "measurement source: external, internal or oracle")
	f.StringVar(&m.prepper, "prepper", "", "cache preparation: none, decaps or flush")
	f.IntVar(&m.warmup, "warmup", 0, "warmup decapsulations")
	f.IntVarP(&m.iterations, "iterations", "n", 0, "decapsulations per measurement")
	f.IntVar(&m.profile, "profile-iterations", 0, "decapsulations per profiling measurement")
	f.IntVarP(&m.encaps, "encaps", "e", 0, "ciphertexts to attack")
	f.IntVar(&m.keys, "keys", 0, "key pairs to sample")
	f.IntVar(&m.coordinate, "coordinate", -1, "coefficient of C to modify, negative for the last")
	f.StringVarP(&m.output, "output", "o", "", "CSV file receiving the recorded series")
}

// apply copies the flags the user set into cfg.
func (m *measurementFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string, fn func()) {
		if f.Changed(name) {
			fn()
		}
	}
	set("kem", func() { cfg.Measurement.KEM = m.kem })
	set("inner-kem", func() { cfg.Measurement.InnerKEM = m.innerKEM })
	set("source", func() { cfg.Measurement.Source = m.source })
	set("prepper", func() { cfg.Measurement.Prepper = m.prepper })
	set("warmup", func() { cfg.Search.WarmupIterations = m.warmup })
	set("iterations", func() { cfg.Search.Iterations = m.iterations })
	set("profile-iterations", func() { cfg.Search.ProfileIterations = m.profile })
	set("encaps", func() { cfg.Campaign.Encaps = m.encaps })
	set("keys", func() { cfg.Campaign.Keys = m.keys })
	set("coordinate", func() { cfg.Campaign.Coordinate = &m.coordinate })
	set("output", func() { cfg.Campaign.Output = m.output })
}

// configure applies the measurement flags and revalidates the
// configuration.
func (a *app) configure(cmd *cobra.Command, m *measurementFlags) error {
	m.apply(cmd, a.cfg)
	return a.cfg.FixupAndValidate()
}

func (a *app) oracle() (kem.Oracle, error) {
	return schemes.ByNameWithInner(a.cfg.Measurement.KEM, a.cfg.Measurement.InnerKEM)
}

// campaignOptions builds campaign options from the configuration.
func (a *app) campaignOptions() (*campaign.Options, error) {
	o, err := a.oracle()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	return &campaign.Options{
		Oracle:     o,
		Source:     cfg.Measurement.ParsedSource(),
		Prepper:    cfg.Measurement.ParsedPrepper(),
		Search:     cfg.Search.Params(),
		Encaps:     cfg.Campaign.Encaps,
		Keys:       cfg.Campaign.Keys,
		Coordinate: *cfg.Campaign.Coordinate,
		Output:     cfg.Campaign.Output,
		Log:        a.backend.GetLogger("campaign"),
	}, nil
}
