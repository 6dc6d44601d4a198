package metrics

import "time"

// TransferMetrics records storage transfer activity.
//
// Implementations must be safe for concurrent use. Components accept a nil
// TransferMetrics and fall back to the no-op implementation.
type TransferMetrics interface {
	// RecordTransfer records one completed transfer in the given direction
	// ("get" or "push") against a backend type ("local", "s3", "ssh", ...).
	RecordTransfer(backendType, direction string, bytes int64, duration time.Duration)

	// RecordSkip records a transfer avoided by the skip-if-unchanged policy.
	RecordSkip(backendType string)

	// RecordError records a failed transfer.
	RecordError(backendType, direction string)
}

// noopTransferMetrics discards every observation.
type noopTransferMetrics struct{}

func (noopTransferMetrics) RecordTransfer(string, string, int64, time.Duration) {}
func (noopTransferMetrics) RecordSkip(string)                                   {}
func (noopTransferMetrics) RecordError(string, string)                          {}

// NewNoopTransferMetrics returns a TransferMetrics that records nothing.
func NewNoopTransferMetrics() TransferMetrics {
	return noopTransferMetrics{}
}
