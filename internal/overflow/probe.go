package overflow

import (
	"math"
	"runtime/metrics"
)

// Probe reports how many heap bytes are still available to the recorder.
type Probe interface {
	FreeHeap() uint64
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func() uint64

func (f ProbeFunc) FreeHeap() uint64 { return f() }

const (
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricMemLimit    = "/gc/gomemlimit:bytes"
)

// RuntimeProbe measures free heap as the memory limit minus live heap
// objects. Limit overrides the runtime soft limit (GOMEMLIMIT) when non-zero.
// Without any limit the heap is unbounded and FreeHeap never runs low.
type RuntimeProbe struct {
	Limit uint64
}

func (p RuntimeProbe) FreeHeap() uint64 {
	samples := []metrics.Sample{{Name: metricHeapObjects}, {Name: metricMemLimit}}
	metrics.Read(samples)

	limit := p.Limit
	if limit == 0 && samples[1].Value.Kind() == metrics.KindUint64 {
		limit = samples[1].Value.Uint64()
	}
	if limit == 0 || limit >= math.MaxInt64 {
		return math.MaxUint64
	}
	var used uint64
	if samples[0].Value.Kind() == metrics.KindUint64 {
		used = samples[0].Value.Uint64()
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
