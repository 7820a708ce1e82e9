package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
)

// DefaultTrees is the ensemble size used when none is configured.
const DefaultTrees = 100

// defaultSubsampleSize caps how many points each tree bootstraps from,
// per the standard isolation-forest construction.
const defaultSubsampleSize = 256

// isoNode is one node of an isolation tree. A leaf has Feature == -1 and
// Size holding the count of points that reached it (used for the
// unsuccessful-search-path adjustment at shallow leaves).
type isoNode struct {
	Feature int       `json:"feature"`
	Split   float64   `json:"split"`
	Size    int       `json:"size"`
	Left    *isoNode  `json:"left,omitempty"`
	Right   *isoNode  `json:"right,omitempty"`
}

func (n *isoNode) isLeaf() bool { return n.Feature < 0 }

// IsolationForestModel is a fixed-size ensemble of random-split binary
// trees trained on bootstrapped subsamples of the training data.
type IsolationForestModel struct {
	Trees         []*isoNode
	SampleSize    int
	NumTrees      int
	SubsampleSize int
}

func NewIsolationForest(numTrees int) *IsolationForestModel {
	if numTrees <= 0 {
		numTrees = DefaultTrees
	}
	return &IsolationForestModel{NumTrees: numTrees, SubsampleSize: defaultSubsampleSize}
}

func (m *IsolationForestModel) Kind() string { return "iforest" }

// Train bootstraps NumTrees subsamples and builds a random-split tree for
// each. Tree height is capped at ceil(log2(subsampleSize)), the standard
// isolation-forest bound (anomalies isolate at shallow depth; normal points
// need the full height, which would otherwise make trees unbounded).
func (m *IsolationForestModel) Train(vectors [][]float64) {
	m.Trees = nil
	m.SampleSize = len(vectors)
	if len(vectors) == 0 {
		return
	}

	subN := m.SubsampleSize
	if subN <= 0 || subN > len(vectors) {
		subN = len(vectors)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(subN))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(42))
	for t := 0; t < m.NumTrees; t++ {
		sample := bootstrapSample(vectors, subN, rng)
		tree := buildTree(sample, 0, heightLimit, rng)
		m.Trees = append(m.Trees, tree)
	}
}

func bootstrapSample(vectors [][]float64, n int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = vectors[rng.Intn(len(vectors))]
	}
	return out
}

func buildTree(sample [][]float64, depth, heightLimit int, rng *rand.Rand) *isoNode {
	if depth >= heightLimit || len(sample) <= 1 {
		return &isoNode{Feature: -1, Size: len(sample)}
	}

	d := len(sample[0])
	feature := rng.Intn(d)

	min, max := sample[0][feature], sample[0][feature]
	for _, v := range sample {
		if v[feature] < min {
			min = v[feature]
		}
		if v[feature] > max {
			max = v[feature]
		}
	}
	if min == max {
		return &isoNode{Feature: -1, Size: len(sample)}
	}

	split := min + rng.Float64()*(max-min)

	var left, right [][]float64
	for _, v := range sample {
		if v[feature] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{Feature: -1, Size: len(sample)}
	}

	return &isoNode{
		Feature: feature,
		Split:   split,
		Left:    buildTree(left, depth+1, heightLimit, rng),
		Right:   buildTree(right, depth+1, heightLimit, rng),
	}
}

// cFactor is the expected unsuccessful-search path length in a binary
// search tree built over n points.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	h := math.Log(nf-1) + 0.5772156649
	return 2*h - (2 * (nf - 1) / nf)
}

func pathLength(node *isoNode, v []float64, depth int) float64 {
	if node.isLeaf() {
		if node.Size <= 1 {
			return float64(depth)
		}
		return float64(depth) + cFactor(node.Size)
	}
	if v[node.Feature] < node.Split {
		return pathLength(node.Left, v, depth+1)
	}
	return pathLength(node.Right, v, depth+1)
}

// Score follows the standard isolation-forest path-length normalization:
// 2^(-E[h(x)]/c(n)).
func (m *IsolationForestModel) Score(v []float64) float64 {
	if len(m.Trees) == 0 || m.SampleSize <= 1 {
		return 0
	}
	total := 0.0
	for _, tree := range m.Trees {
		total += pathLength(tree, v, 0)
	}
	avgPath := total / float64(len(m.Trees))
	c := cFactor(m.SampleSize)
	if c <= 0 {
		return 0
	}
	return math.Pow(2, -avgPath/c)
}

type isoforestFile struct {
	Kind          string     `json:"kind"`
	Features      []string   `json:"features"`
	Params        isoParams  `json:"params"`
}

type isoParams struct {
	Trees         []*isoNode `json:"trees"`
	SampleSize    int        `json:"sample_size"`
	NumTrees      int        `json:"num_trees"`
	SubsampleSize int        `json:"subsample_size"`
}

func (m *IsolationForestModel) Save(path string) error {
	doc := isoforestFile{
		Kind:     "iforest",
		Features: FeatureNames,
		Params: isoParams{
			Trees:         m.Trees,
			SampleSize:    m.SampleSize,
			NumTrees:      m.NumTrees,
			SubsampleSize: m.SubsampleSize,
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func LoadIsolationForest(path string) (*IsolationForestModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc isoforestFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse iforest model: %w", err)
	}
	if doc.Kind != "iforest" {
		return nil, fmt.Errorf("model kind %q is not iforest", doc.Kind)
	}
	if !sameFeatures(doc.Features) {
		return nil, fmt.Errorf("model feature order %v does not match canonical order %v", doc.Features, FeatureNames)
	}
	return &IsolationForestModel{
		Trees:         doc.Params.Trees,
		SampleSize:    doc.Params.SampleSize,
		NumTrees:      doc.Params.NumTrees,
		SubsampleSize: doc.Params.SubsampleSize,
	}, nil
}
