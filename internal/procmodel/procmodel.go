// Package procmodel holds the value types that flow through the scan
// pipeline: the per-process snapshot, the findings a rule produces, and the
// scored record the scanner ranks and acts on.
package procmodel

import "time"

// ProcessRecord is an immutable best-effort snapshot of one process. Fields
// that could not be read take their documented zero value; a partial record
// never aborts a scan pass.
type ProcessRecord struct {
	PID  int
	PPID int

	Name string
	User string

	ExePath          string
	ExeDeleted       bool
	ExeIsMemfd       bool
	ExeSHA256        string
	ExeWorldWritable bool

	Cwd     string
	Cmdline []string

	ParentName string

	MapsHasWX bool
	TracerPID int

	EnvFlags map[string]bool

	HasTTY bool

	CPUPercent float64
	MemMB      float64

	ThreadCount int
	FDCount     int

	OutboundConns int
	RemotePorts   []int

	Timestamp time.Time
}

// EnvFlagNames is the fixed set of environment variable names the feature
// extractor checks for presence (never values) in the process environment.
var EnvFlagNames = []string{"LD_PRELOAD", "LD_LIBRARY_PATH", "PYTHONPATH", "PATH"}

// Finding is one fired rule's contribution: a weight and a human-readable
// rationale. Reasons are preserved verbatim through whitelist reduction
// (with a "(whitelisted)" suffix appended, never replaced).
type Finding struct {
	Weight float64
	Reason string
}

// Status buckets a ScoredRecord by its total score.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// ScoredRecord pairs a ProcessRecord with its findings and aggregated scores.
type ScoredRecord struct {
	Record         ProcessRecord
	Findings       []Finding
	HeuristicScore float64
	MLScore        float64
	TotalScore     float64
	Whitelisted    bool
	Status         Status
}

// PassResult bundles one scan pass's full process population with the
// subset that met the configured minimum score. A record can appear in All
// but not Findings — e.g. a below-threshold watched-port hit is still
// visible to consumers that want every process, just not surfaced as an
// alert-worthy finding.
type PassResult struct {
	All      []ScoredRecord
	Findings []ScoredRecord
}

// Classify buckets a total score per spec: critical >= 8, warning >= 5,
// else normal.
func Classify(total float64) Status {
	switch {
	case total >= 8:
		return StatusCritical
	case total >= 5:
		return StatusWarning
	default:
		return StatusNormal
	}
}
