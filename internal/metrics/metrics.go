// Package metrics exports training progress as prometheus metrics. Runs are
// batch jobs, so the registry is written to a node-exporter text file at the
// end of a run instead of being scraped.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cnclabs/contextrec/internal/models/clstm"
)

var (
	// Contextual LSTM metrics
	Perplexity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clstm_perplexity",
			Help: "Perplexity of the last finished epoch",
		},
		[]string{"phase"}, // "train", "valid", "test"
	)

	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clstm_batches_total",
			Help: "Total number of processed windows",
		},
		[]string{"phase"},
	)

	LearningRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clstm_learning_rate",
			Help: "Learning rate of the current epoch",
		},
	)

	GradNorm = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clstm_grad_norm",
			Help:    "Global gradient norm before clipping",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)

	MissingContext = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clstm_missing_context_total",
			Help: "Total number of context lookups answered with the zero vector",
		},
	)

	// Matrix factorization metrics
	MFCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mf_cost",
			Help: "Last logged factorization cost",
		},
		[]string{"phase"}, // "train", "eval"
	)

	MFSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mf_steps_total",
			Help: "Total number of factorization gradient steps",
		},
	)
)

// Recorder feeds the package metrics. It satisfies both clstm.Observer and
// mf.Observer.
type Recorder struct{}

// ObserveBatch counts a window. The learning rate and gradient norm are only
// recorded for training windows.
func (Recorder) ObserveBatch(phase string, lr, gradNorm float64) {
	Batches.WithLabelValues(phase).Inc()
	if phase == clstm.PhaseTrain {
		LearningRate.Set(lr)
		GradNorm.Observe(gradNorm)
	}
}

func (Recorder) ObserveEpoch(phase string, _ int, perplexity float64) {
	Perplexity.WithLabelValues(phase).Set(perplexity)
}

func (Recorder) ObserveMissingContext(string) {
	MissingContext.Inc()
}

func (Recorder) ObserveCost(phase string, cost float64) {
	MFCost.WithLabelValues(phase).Set(cost)
}

func (Recorder) ObserveStep() {
	MFSteps.Inc()
}

// WriteTextfile writes the default registry to path in the text exposition
// format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
