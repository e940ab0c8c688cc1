package worldlog

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/worldlog/internal/worldlog"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// instruments uses the global OTel meter (no-op if not configured).
type instruments struct {
	ticks        metric.Int64ObservableGauge
	appended     metric.Int64Counter
	overflows    metric.Int64Counter
	cacheHits    metric.Int64Counter
	diskReads    metric.Int64Counter
	saveDuration metric.Float64Histogram

	tickCount atomic.Int64
	onDisk    atomic.Bool
}

func newInstruments() (*instruments, error) {
	m := meter()
	in := &instruments{}

	var err error
	in.ticks, err = m.Int64ObservableGauge(
		"worldlog.ticks",
		metric.WithDescription("Ticks held by the current recording"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ticks gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(in.ticks, in.tickCount.Load(),
				metric.WithAttributes(attribute.Bool("disk", in.onDisk.Load())))
			return nil
		},
		in.ticks,
	)
	if err != nil {
		return nil, fmt.Errorf("registering ticks callback: %w", err)
	}

	in.appended, err = m.Int64Counter(
		"worldlog.ticks.appended",
		metric.WithDescription("Total ticks appended"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating appended counter: %w", err)
	}

	in.overflows, err = m.Int64Counter(
		"worldlog.overflow.transitions",
		metric.WithDescription("Recordings that moved from memory to disk"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating overflow counter: %w", err)
	}

	in.cacheHits, err = m.Int64Counter(
		"worldlog.seek.cache_hits",
		metric.WithDescription("Seeks served from the snapshot cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache hit counter: %w", err)
	}

	in.diskReads, err = m.Int64Counter(
		"worldlog.seek.disk_reads",
		metric.WithDescription("Seeks that decoded a tick from disk"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating disk read counter: %w", err)
	}

	in.saveDuration, err = m.Float64Histogram(
		"worldlog.save.duration",
		metric.WithDescription("Time spent writing archives"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating save duration histogram: %w", err)
	}

	return in, nil
}
