// config.go - kemtiming configuration.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the kemtiming configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/kemtiming/kem/schemes"
	"github.com/katzenpost/kemtiming/measure"
	"github.com/katzenpost/kemtiming/rejection"
	"github.com/katzenpost/kemtiming/search"
)

const (
	defaultLogLevel          = "NOTICE"
	defaultKEM               = "FrodoKEM-640-SHAKE-model"
	defaultSource            = "external"
	defaultPrepper           = "none"
	defaultWarmup            = 10000
	defaultProfileIterations = 10000
	defaultIterations        = 2000
	defaultEncaps            = 1
	defaultKeys              = 1
	defaultPlaintextDB       = "plaintexts.db"
	defaultLastLines         = 30000
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Measurement selects the oracle and how it is timed.
type Measurement struct {
	// KEM is the oracle name, an instrumented model or any hpqc scheme.
	KEM string

	// InnerKEM is the hpqc scheme wrapped by the fixed-weight models.
	InnerKEM string

	// Source is one of "external", "internal" or "oracle".
	Source string

	// Prepper is one of "none", "decaps" or "flush".
	Prepper string

	source  measure.Source
	prepper measure.Prepper
}

func (mCfg *Measurement) applyDefaults() {
	if mCfg.KEM == "" {
		mCfg.KEM = defaultKEM
	}
	if mCfg.InnerKEM == "" {
		mCfg.InnerKEM = schemes.DefaultInnerKEM
	}
	if mCfg.Source == "" {
		mCfg.Source = defaultSource
	}
	if mCfg.Prepper == "" {
		mCfg.Prepper = defaultPrepper
	}
}

func (mCfg *Measurement) validate() error {
	var err error
	if mCfg.source, err = measure.ParseSource(mCfg.Source); err != nil {
		return fmt.Errorf("config: Measurement: %v", err)
	}
	if mCfg.prepper, err = measure.ParsePrepper(mCfg.Prepper); err != nil {
		return fmt.Errorf("config: Measurement: %v", err)
	}
	return nil
}

// ParsedSource returns the validated Source.
func (mCfg *Measurement) ParsedSource() measure.Source {
	return mCfg.source
}

// ParsedPrepper returns the validated Prepper.
func (mCfg *Measurement) ParsedPrepper() measure.Prepper {
	return mCfg.prepper
}

// Search holds the iteration counts and tunables of the adaptive search.
// Zero values select the defaults.
type Search struct {
	WarmupIterations  int
	ProfileIterations int
	Iterations        int

	// LowPercentageLimit is unset when nil, so that 0 can be selected.
	LowPercentageLimit      *float64
	ConsecutiveLimitChange  int
	MaxModRetries           int
	MaxBinarySearchAttempts int
	SkewDivisor             uint16

	// DisableSkew probes midpoints only.
	DisableSkew bool

	// DisableConfirm reports a value without re-probing both bounds.
	DisableConfirm bool
}

func (sCfg *Search) applyDefaults() {
	if sCfg.WarmupIterations == 0 {
		sCfg.WarmupIterations = defaultWarmup
	}
	if sCfg.ProfileIterations == 0 {
		sCfg.ProfileIterations = defaultProfileIterations
	}
	if sCfg.Iterations == 0 {
		sCfg.Iterations = defaultIterations
	}
}

// Params returns the search parameters described by the section.
func (sCfg *Search) Params() *search.Params {
	lowPercentageLimit := search.DefaultLowPercentageLimit
	if sCfg.LowPercentageLimit != nil {
		lowPercentageLimit = *sCfg.LowPercentageLimit
	}
	return &search.Params{
		LowPercentageLimit:      lowPercentageLimit,
		ConsecutiveLimitChange:  sCfg.ConsecutiveLimitChange,
		MaxModRetries:           sCfg.MaxModRetries,
		MaxBinarySearchAttempts: sCfg.MaxBinarySearchAttempts,
		SkewDivisor:             sCfg.SkewDivisor,
		Skew:                    !sCfg.DisableSkew,
		Confirm:                 !sCfg.DisableConfirm,
		WarmupIterations:        sCfg.WarmupIterations,
		ProfileIterations:       sCfg.ProfileIterations,
		Iterations:              sCfg.Iterations,
	}
}

func (sCfg *Search) validate() error {
	if err := sCfg.Params().Validate(); err != nil {
		return fmt.Errorf("config: Search: %v", err)
	}
	return nil
}

// Campaign is the campaign configuration.
type Campaign struct {
	// Encaps is the number of ciphertexts attacked or sampled per key.
	Encaps int

	// Keys is the number of key pairs used by the interleaved baselines.
	Keys int

	// Coordinate is the modified coefficient of C, negative or unset for
	// the last.
	Coordinate *int

	// Output is the CSV file receiving the recorded series.
	Output string
}

func (cCfg *Campaign) applyDefaults() {
	if cCfg.Encaps == 0 {
		cCfg.Encaps = defaultEncaps
	}
	if cCfg.Keys == 0 {
		cCfg.Keys = defaultKeys
	}
	if cCfg.Coordinate == nil {
		last := -1
		cCfg.Coordinate = &last
	}
}

func (cCfg *Campaign) validate() error {
	if cCfg.Encaps < 0 || cCfg.Keys < 0 {
		return errors.New("config: Campaign: Encaps and Keys must be positive")
	}
	return nil
}

// PlaintextDB is the rejection sampling plaintext database configuration.
type PlaintextDB struct {
	// Path is the bbolt database file.
	Path string

	// Limit is the number of plaintexts stored per rejection count.
	Limit uint32

	// Threads is the number of collecting goroutines.
	Threads int

	// SaveInterval is how often encounter counters are persisted.
	SaveInterval time.Duration

	// StopAfter ends collection after this long, zero runs until
	// interrupted.
	StopAfter time.Duration
}

func (pCfg *PlaintextDB) applyDefaults() {
	if pCfg.Path == "" {
		pCfg.Path = defaultPlaintextDB
	}
	if pCfg.Limit == 0 {
		pCfg.Limit = rejection.DefaultLimit
	}
	if pCfg.Threads == 0 {
		pCfg.Threads = runtime.NumCPU()
	}
}

func (pCfg *PlaintextDB) validate() error {
	switch {
	case pCfg.Threads < 0:
		return fmt.Errorf("config: PlaintextDB: Threads %d is invalid", pCfg.Threads)
	case pCfg.SaveInterval < 0 || pCfg.StopAfter < 0:
		return errors.New("config: PlaintextDB: durations must not be negative")
	}
	return nil
}

// Gather is the bulk attack driver configuration.
type Gather struct {
	// Binary is the attack executable and Args its arguments.
	Binary string
	Args   []string

	Trials  int
	Workers int

	// Output is the results CSV.
	Output string

	// LastLines is the number of output lines kept per trial.
	LastLines int
}

func (gCfg *Gather) applyDefaults() {
	if gCfg.Workers == 0 {
		gCfg.Workers = runtime.NumCPU()
	}
	if gCfg.LastLines == 0 {
		gCfg.LastLines = defaultLastLines
	}
}

func (gCfg *Gather) validate() error {
	if gCfg.Trials < 0 || gCfg.Workers < 0 || gCfg.LastLines < 0 {
		return errors.New("config: Gather: counts must not be negative")
	}
	return nil
}

// Metrics is the Prometheus exporter configuration.
type Metrics struct {
	// Address is the listen address of the /metrics endpoint, disabled if
	// empty.
	Address string
}

// Profiling is the continuous profiling configuration.
type Profiling struct {
	// Enable starts the profiler if the binary was built with support.
	Enable bool
}

// Config is the top level kemtiming configuration.
type Config struct {
	Logging     *Logging
	Measurement *Measurement
	Search      *Search
	Campaign    *Campaign
	PlaintextDB *PlaintextDB
	Gather      *Gather
	Metrics     *Metrics
	Profiling   *Profiling
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// Every section is optional.
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Measurement == nil {
		cfg.Measurement = &Measurement{}
	}
	if cfg.Search == nil {
		cfg.Search = &Search{}
	}
	if cfg.Campaign == nil {
		cfg.Campaign = &Campaign{}
	}
	if cfg.PlaintextDB == nil {
		cfg.PlaintextDB = &PlaintextDB{}
	}
	if cfg.Gather == nil {
		cfg.Gather = &Gather{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.Profiling == nil {
		cfg.Profiling = &Profiling{}
	}

	cfg.Measurement.applyDefaults()
	cfg.Search.applyDefaults()
	cfg.Campaign.applyDefaults()
	cfg.PlaintextDB.applyDefaults()
	cfg.Gather.applyDefaults()

	for _, v := range []func() error{
		cfg.Logging.validate,
		cfg.Measurement.validate,
		cfg.Search.validate,
		cfg.Campaign.validate,
		cfg.PlaintextDB.validate,
		cfg.Gather.validate,
	} {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the validated default configuration.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic("config: invalid defaults: " + err.Error())
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
