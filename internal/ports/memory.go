package ports

// MemorySampler reports process memory pressure.
// The adaptive monitor shrinks batching parameters when usage climbs.
type MemorySampler interface {
	// UsagePercent returns current memory usage in the range [0, 100].
	UsagePercent() float64
}
