package shutdown

import "time"

const (
	// DefaultShutdownTimeout is used when no overall budget is configured.
	DefaultShutdownTimeout = 30 * time.Second

	// TransportDrainPercent is the share of the budget given to transport drain.
	TransportDrainPercent = 70

	// TransportDrainMargin is added to the drain share when waiting for the
	// transport goroutine to exit.
	TransportDrainMargin = 2 * time.Second

	// DefaultRequestDrainTimeout bounds the wait for in-flight requests. It is
	// independent of the overall budget.
	DefaultRequestDrainTimeout = 30 * time.Second
)

// Budget partitions the overall shutdown timeout between transport drain
// and manager cleanup.
type Budget struct {
	Total          time.Duration
	TransportDrain time.Duration
	TransportGrace time.Duration
	ManagerCleanup time.Duration
}

// NewBudget splits total 70/30. A non-positive total uses DefaultShutdownTimeout.
func NewBudget(total time.Duration) Budget {
	if total <= 0 {
		total = DefaultShutdownTimeout
	}
	drain := total * TransportDrainPercent / 100
	return Budget{
		Total:          total,
		TransportDrain: drain,
		TransportGrace: drain + TransportDrainMargin,
		ManagerCleanup: total - drain,
	}
}
