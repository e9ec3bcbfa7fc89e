//go:build !noprometheus

// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exports campaign progress as Prometheus metrics.
package instrument

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	coordinates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kemtiming_coordinates_total",
			Help: "Number of searched coordinates by outcome",
		},
		[]string{"outcome"},
	)
	probesPerCoordinate = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kemtiming_search_probes",
			Help:    "Number of probes needed per coordinate",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
	)
	modRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kemtiming_mod_retries_total",
			Help: "Number of re-measured probes",
		},
	)
	samples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kemtiming_samples_total",
			Help: "Number of decapsulation samples by fate",
		},
		[]string{"fate"},
	)
	plaintexts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kemtiming_rejection_plaintexts_total",
			Help: "Number of plaintexts classified by the rejection collector",
		},
		[]string{"kem"},
	)
	writeQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kemtiming_plaintext_write_queue_length",
			Help: "Length of the plaintext database write queue",
		},
	)
	trials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kemtiming_gather_trials_total",
			Help: "Number of attack binary runs by outcome",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(coordinates)
		prometheus.MustRegister(probesPerCoordinate)
		prometheus.MustRegister(modRetries)
		prometheus.MustRegister(samples)
		prometheus.MustRegister(plaintexts)
		prometheus.MustRegister(writeQueue)
		prometheus.MustRegister(trials)
	})
}

// Init registers the metrics and, if address is not empty, serves them on
// address under /metrics.  It returns once the listener is bound.
func Init(address string) error {
	register()
	if address == "" {
		return nil
	}
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.Serve(l, mux); err != nil && !errors.Is(err, net.ErrClosed) {
			panic(err)
		}
	}()
	return nil
}

// Coordinate records the outcome of one coordinate search.
func Coordinate(outcome string, probes int) {
	coordinates.With(prometheus.Labels{"outcome": outcome}).Inc()
	if probes > 0 {
		probesPerCoordinate.Observe(float64(probes))
	}
}

// ModRetries adds n re-measured probes.
func ModRetries(n int) {
	modRetries.Add(float64(n))
}

// Samples adds n samples with the given fate.
func Samples(fate string, n int) {
	samples.With(prometheus.Labels{"fate": fate}).Add(float64(n))
}

// Plaintexts increments the classified plaintext counter of kem.
func Plaintexts(kem string) {
	plaintexts.With(prometheus.Labels{"kem": kem}).Inc()
}

// WriteQueue observes the plaintext database write queue length.
func WriteQueue(length int) {
	writeQueue.Set(float64(length))
}

// Trial records the outcome of one attack binary run.
func Trial(outcome string) {
	trials.With(prometheus.Labels{"outcome": outcome}).Inc()
}
