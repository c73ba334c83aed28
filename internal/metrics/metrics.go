// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package metrics counts what the batch reader does.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const namespace = "odatabatch"

// Batch reader metrics. A Recorder is safe for concurrent use, so one
// recorder can observe several readers.
type Recorder struct {
	registry *prometheus.Registry

	parts     *prometheus.CounterVec
	refills   prometheus.Counter
	bytesRead prometheus.Counter
	batches   prometheus.Counter
	failures  *prometheus.CounterVec
}

var _ batch.Observer = (*Recorder)(nil)

func New() *Recorder {
	r := new(Recorder)
	r.registry = prometheus.NewRegistry()
	f := promauto.With(r.registry)

	r.parts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "parts_total",
		Help:      "Number of parts read, by kind",
	}, []string{"kind"})
	r.refills = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "refills_total",
		Help:      "Number of scan buffer refills",
	})
	r.bytesRead = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "read_bytes_total",
		Help:      "Number of bytes read from batch sources",
	})
	r.batches = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "batches_total",
		Help:      "Number of batches read to the end",
	})
	r.failures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "failures_total",
		Help:      "Number of batches abandoned, by status",
	}, []string{"status"})
	return r
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Refilled(n int) {
	r.refills.Inc()
	r.bytesRead.Add(float64(n))
}

func (r *Recorder) PartRead(kind batch.PartKind) {
	r.parts.WithLabelValues(kind.String()).Inc()
}

// Finished records the outcome of reading a batch.
func (r *Recorder) Finished(err error) {
	if err == nil {
		r.batches.Inc()
		return
	}

	code := errors.Code(err)
	if code == 0 {
		code = errors.UnknownError
	}
	r.failures.WithLabelValues(code.String()).Inc()
}

// WriteText writes every metric in the Prometheus text format.
func (r *Recorder) WriteText(w io.Writer) error {
	mfs, err := r.registry.Gather()
	if err != nil {
		return errors.InternalError.WithCauseAndFormat(err, "gather metrics")
	}
	for _, mf := range mfs {
		_, err = expfmt.MetricFamilyToText(w, mf)
		if err != nil {
			return errors.UnknownError.WithCauseAndFormat(err, "write metrics")
		}
	}
	return nil
}
