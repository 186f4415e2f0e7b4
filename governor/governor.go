// Package governor computes ingestion memory pressure for a set of assets.
//
// The accounting is a conservative heuristic: each image is charged its raw
// size, its base64 payload size, and a fixed decode allowance for the in-memory
// bitmap, regardless of its actual dimensions.
package governor

import "github.com/richinex/handoff/asset"

const (
	// MemoryLimit is the saturation ceiling (1.5 GiB).
	MemoryLimit int64 = 3 * 1024 * 1024 * 1024 / 2

	// DecodeOverhead is the fixed per-image bitmap allowance (8 MiB).
	DecodeOverhead int64 = 8 * 1024 * 1024
)

// Metrics describes the memory pressure of the current asset set.
type Metrics struct {
	TotalBytes int64
	AssetCount int
	Saturation float64 // 0 to 1
	IsCritical bool
}

// ComputeMetrics accounts every asset against MemoryLimit.
// Pure function: callers recompute on every asset-set change.
func ComputeMetrics(assets []asset.Asset) Metrics {
	var total int64
	for _, a := range assets {
		total += a.RawSize + a.EncodedSize + DecodeOverhead
	}

	saturation := float64(total) / float64(MemoryLimit)
	if saturation > 1 {
		saturation = 1
	}

	return Metrics{
		TotalBytes: total,
		AssetCount: len(assets),
		Saturation: saturation,
		IsCritical: total >= MemoryLimit,
	}
}

// Headroom returns the bytes left before the set becomes critical, never negative.
func (m Metrics) Headroom() int64 {
	if m.TotalBytes >= MemoryLimit {
		return 0
	}
	return MemoryLimit - m.TotalBytes
}
