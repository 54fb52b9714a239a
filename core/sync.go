package core

import (
	"context"
	"time"
)

type (
	// Locker grants exclusive access to a key until the returned release func is called.
	// Lock blocks until the key is free or ctx is done.
	Locker interface {
		Lock(ctx context.Context, key string) (release func(), err error)
	}

	// MetricsRecorder receives counters about reconciliation work.
	MetricsRecorder interface {
		OperationFinished(opType, status string, took time.Duration)
		LedgerMutation(kind string, count int)
		HealthDiscrepancies(total int)
	}

	NopMetrics struct{}
)

var _ MetricsRecorder = NopMetrics{}

func (NopMetrics) OperationFinished(string, string, time.Duration) {}
func (NopMetrics) LedgerMutation(string, int)                     {}
func (NopMetrics) HealthDiscrepancies(int)                        {}
