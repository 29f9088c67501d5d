// Package dispatch throttles calls against quota-limited third-party APIs
// by partitioning work into per-second batches with a deliberate pause
// between them.
package dispatch

import (
	"log/slog"
	"time"
)

// sleepMarginNum/sleepMarginDen scale the inter-batch pause to 110% of the
// nominal 1/limit interval. The margin absorbs clock drift between this
// process and the provider's rolling-window accounting.
const (
	sleepMarginNum = 11
	sleepMarginDen = 10
)

// Dispatcher issues work in batches sized to a requests-per-second ceiling.
// It knows nothing about quotas or cancellation; callers that run long check
// cancellation between batches via the work callback's error return.
type Dispatcher struct {
	sleep  func(time.Duration)
	logger *slog.Logger
}

// New creates a dispatcher. The sleep function is replaceable for tests.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sleep:  time.Sleep,
		logger: logger,
	}
}

// NewWithSleep creates a dispatcher with a custom sleep function.
func NewWithSleep(logger *slog.Logger, sleep func(time.Duration)) *Dispatcher {
	return &Dispatcher{
		sleep:  sleep,
		logger: logger,
	}
}

// Interval returns the pause applied between batches for the given ceiling,
// strictly greater than one second divided by perSecond.
func Interval(perSecond int) time.Duration {
	if perSecond < 1 {
		perSecond = 1
	}
	return time.Second * sleepMarginNum / time.Duration(perSecond*sleepMarginDen)
}

// ForEachBatch partitions items into consecutive batches of perSecond and
// invokes work once per batch. It pauses after every batch except the last;
// never sleeping after the final batch matters both for tests and for not
// delaying run completion. A work error stops dispatch and is returned.
func ForEachBatch[T any](d *Dispatcher, items []T, perSecond int, work func(batch []T) error) error {
	if len(items) == 0 {
		return nil
	}
	if perSecond < 1 {
		perSecond = 1
	}

	interval := Interval(perSecond)
	total := (len(items) + perSecond - 1) / perSecond

	for i := 0; i < len(items); i += perSecond {
		end := i + perSecond
		if end > len(items) {
			end = len(items)
		}

		batch := items[i:end]
		d.logger.Debug("dispatching batch",
			"batch", i/perSecond+1,
			"total_batches", total,
			"size", len(batch))

		if err := work(batch); err != nil {
			return err
		}

		if end < len(items) {
			d.sleep(interval)
		}
	}

	return nil
}
