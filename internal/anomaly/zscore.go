package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ZScoreModel trains per-feature mean and standard deviation, then scores a
// vector by its single most-deviating feature.
type ZScoreModel struct {
	Means []float64
	Stds  []float64
}

func NewZScore() *ZScoreModel {
	return &ZScoreModel{}
}

func (m *ZScoreModel) Kind() string { return "zscore" }

// Train computes per-feature mean and (sample) standard deviation.
func (m *ZScoreModel) Train(vectors [][]float64) {
	if len(vectors) == 0 {
		m.Means = nil
		m.Stds = nil
		return
	}
	d := len(vectors[0])
	means := make([]float64, d)
	for _, v := range vectors {
		for j, x := range v {
			means[j] += x
		}
	}
	n := float64(len(vectors))
	for j := range means {
		means[j] /= n
	}

	stds := make([]float64, d)
	for _, v := range vectors {
		for j, x := range v {
			diff := x - means[j]
			stds[j] += diff * diff
		}
	}
	denom := n - 1
	if denom < 1 {
		denom = 1
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / denom)
	}

	m.Means = means
	m.Stds = stds
}

// Score computes max_i |x_i - mean_i| / max(std_i, eps), then squashes to
// [0,1) via clampUnit.
func (m *ZScoreModel) Score(v []float64) float64 {
	if len(m.Means) == 0 || len(m.Means) != len(v) {
		return 0
	}
	maxZ := 0.0
	for i, x := range v {
		std := m.Stds[i]
		if std < epsilon {
			std = epsilon
		}
		z := math.Abs(x-m.Means[i]) / std
		if z > maxZ {
			maxZ = z
		}
	}
	return clampUnit(maxZ)
}

type zscoreFile struct {
	Kind     string    `json:"kind"`
	Features []string  `json:"features"`
	Params   zsParams  `json:"params"`
}

type zsParams struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Save writes the tagged JSON model file.
func (m *ZScoreModel) Save(path string) error {
	doc := zscoreFile{
		Kind:     "zscore",
		Features: FeatureNames,
		Params:   zsParams{Means: m.Means, Stds: m.Stds},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadZScore reads a tagged JSON model file, refusing one whose feature
// order does not match the canonical order.
func LoadZScore(path string) (*ZScoreModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc zscoreFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse zscore model: %w", err)
	}
	if doc.Kind != "zscore" {
		return nil, fmt.Errorf("model kind %q is not zscore", doc.Kind)
	}
	if !sameFeatures(doc.Features) {
		return nil, fmt.Errorf("model feature order %v does not match canonical order %v", doc.Features, FeatureNames)
	}
	return &ZScoreModel{Means: doc.Params.Means, Stds: doc.Params.Stds}, nil
}

func sameFeatures(got []string) bool {
	if len(got) != len(FeatureNames) {
		return false
	}
	for i, n := range got {
		if n != FeatureNames[i] {
			return false
		}
	}
	return true
}
