package clstm

// Phases of a run.
const (
	PhaseTrain = "train"
	PhaseValid = "valid"
	PhaseTest  = "test"
)

// Observer receives training progress, e.g. to export metrics.
type Observer interface {
	ObserveBatch(phase string, lr, gradNorm float64)
	ObserveEpoch(phase string, epoch int, perplexity float64)
	ObserveMissingContext(key string)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) ObserveBatch(string, float64, float64) {}
func (NopObserver) ObserveEpoch(string, int, float64)     {}
func (NopObserver) ObserveMissingContext(string)          {}
