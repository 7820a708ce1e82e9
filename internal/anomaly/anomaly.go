// Package anomaly implements the trainable numeric anomaly scorer: a
// per-feature z-score aggregator and an isolation-forest-style ensemble,
// both satisfying the same {train, score, save, load} interface.
package anomaly

import (
	"math"

	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

// FeatureNames is the fixed feature order. It is part of the on-disk model
// format: a model trained with one order refuses to load against another.
var FeatureNames = []string{
	"cpu_percent",
	"mem_mb",
	"thread_count",
	"fd_count",
	"outbound_conns",
	"cmdline_length",
	"maps_has_wx",
	"exe_world_writable",
	"env_has_ld_preload",
}

// Vector derives the fixed-order numeric feature vector from a ProcessRecord.
func Vector(rec procmodel.ProcessRecord) []float64 {
	b2f := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	cmdLen := 0
	for _, a := range rec.Cmdline {
		cmdLen += len(a)
	}
	ldPreload := rec.EnvFlags["LD_PRELOAD"] || rec.EnvFlags["LD_LIBRARY_PATH"]

	return []float64{
		rec.CPUPercent,
		rec.MemMB,
		float64(rec.ThreadCount),
		float64(rec.FDCount),
		float64(rec.OutboundConns),
		float64(cmdLen),
		b2f(rec.MapsHasWX),
		b2f(rec.ExeWorldWritable),
		b2f(ldPreload),
	}
}

// Model is the interface both estimators satisfy. Score always returns a
// value in [0,1); an untrained model scores everything 0.
type Model interface {
	Train(vectors [][]float64)
	Score(vector []float64) float64
	Kind() string
}

const epsilon = 1e-6

// clampUnit squashes a nonnegative deviation measure into [0,1) via
// 1 - exp(-s/3), monotonic in the most-deviating feature.
func clampUnit(s float64) float64 {
	if s < 0 {
		s = 0
	}
	// For large s, 1 - exp(-s/3) rounds to exactly 1 in float64; cap it at
	// the largest value below 1 so the result stays in [0,1).
	return math.Min(1-math.Exp(-s/3), math.Nextafter(1, 0))
}
