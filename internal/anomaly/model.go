package anomaly

import (
	"encoding/json"
	"fmt"
	"os"
)

// Choose returns a fresh, untrained estimator: the isolation-forest ensemble
// when useSklearn is true, the z-score aggregator otherwise.
func Choose(useSklearn bool, numTrees int) Model {
	if useSklearn {
		return NewIsolationForest(numTrees)
	}
	return NewZScore()
}

// Save persists m to path in its tagged JSON form.
func Save(m Model, path string) error {
	switch t := m.(type) {
	case *ZScoreModel:
		return t.Save(path)
	case *IsolationForestModel:
		return t.Save(path)
	default:
		return fmt.Errorf("unsupported model type %T", m)
	}
}

type kindProbe struct {
	Kind string `json:"kind"`
}

// Load reads the model file at path, dispatching on its "kind" tag. An
// absent file is not treated specially: Load returns the read error, which
// satisfies os.IsNotExist.
func Load(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var probe kindProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}
	switch probe.Kind {
	case "zscore":
		return LoadZScore(path)
	case "iforest":
		return LoadIsolationForest(path)
	default:
		return nil, fmt.Errorf("unknown model kind %q", probe.Kind)
	}
}
