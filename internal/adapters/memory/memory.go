// Package memory provides ports.MemorySampler implementations.
package memory

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync/atomic"
)

// Runtime samples Go heap usage.
//
// With a soft memory limit (GOMEMLIMIT or debug.SetMemoryLimit) usage is the
// in-use heap against that limit; otherwise it is measured against the heap
// reserved from the operating system.
type Runtime struct{}

// UsagePercent implements ports.MemorySampler.
func (Runtime) UsagePercent() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	total := stats.HeapSys
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		total = uint64(limit)
	}
	return percent(stats.HeapInuse, total)
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return min(100, float64(used)/float64(total)*100)
}

// Static reports a fixed, settable usage.
type Static struct {
	bits atomic.Uint64
}

// NewStatic creates a sampler reporting percent.
func NewStatic(percent float64) *Static {
	s := &Static{}
	s.Set(percent)
	return s
}

// Set changes the reported usage.
func (s *Static) Set(percent float64) {
	s.bits.Store(math.Float64bits(percent))
}

// UsagePercent implements ports.MemorySampler.
func (s *Static) UsagePercent() float64 {
	return math.Float64frombits(s.bits.Load())
}
