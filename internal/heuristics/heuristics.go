// Package heuristics implements the fixed rule set that turns a
// procmodel.ProcessRecord into a list of weighted findings.
package heuristics

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

// Weights maps a rule name to its configured contribution. A weight of 0
// disables the rule's contribution to the score, but the rule still fires
// and emits its reason — chosen here for audit visibility, since a
// zero-weight finding costs nothing and the operator who zeroed the weight
// presumably still wants to see the rule tripped in the alert line.
type Weights map[string]float64

// DefaultWeights mirrors the original implementation's tuned defaults, except
// ptraced, which is raised to 5 so that it counts as a severe finding.
func DefaultWeights() Weights {
	return Weights{
		"deleted_exe":         4,
		"memfd_exe":           4,
		"tmp_exe":             3,
		"world_writable_exe":  2,
		"wx_mem":              3,
		"empty_cmdline":       1,
		"short_cmdline":       1,
		"obfuscated_cmdline":  2,
		"code_exec_cmdline":   1,
		"name_argv_mismatch":  1,
		"unusual_parent":      3,
		"ld_preload":          2,
		"ptraced":             5,
		"high_cpu":            1,
		"no_tty":              3,
		"watched_port":        2,
		"many_conns":          1,
		"no_exe":              1,
	}
}

var tmpDirs = []string{"/tmp/", "/var/tmp/", "/dev/shm/"}

var interpreterNames = map[string]bool{
	"bash": true, "sh": true, "perl": true, "ruby": true, "node": true,
}

func isInterpreter(name string) bool {
	if interpreterNames[name] {
		return true
	}
	return strings.HasPrefix(name, "python")
}

var unusualParents = map[string]bool{
	"apache2": true, "httpd": true, "nginx": true,
	"postfix": true, "mysqld": true, "postgres": true,
}

// Evaluator evaluates the fixed rule set against a ProcessRecord.
type Evaluator struct {
	Weights    Weights
	CPUHigh    float64
	WatchPorts map[int]bool
}

// New returns an Evaluator with the given weights, CPU-high threshold, and
// watched port set.
func New(weights Weights, cpuHigh float64, watchPorts map[int]bool) *Evaluator {
	return &Evaluator{Weights: weights, CPUHigh: cpuHigh, WatchPorts: watchPorts}
}

func (e *Evaluator) weight(rule string) float64 {
	return e.Weights[rule]
}

// Evaluate runs every rule against rec and returns the findings that fired.
func (e *Evaluator) Evaluate(rec procmodel.ProcessRecord) []procmodel.Finding {
	var findings []procmodel.Finding
	add := func(rule, reason string) {
		findings = append(findings, procmodel.Finding{Weight: e.weight(rule), Reason: reason})
	}

	isKernelThread := rec.PPID == 2 || (rec.ExePath == "" && rec.PID == 2)

	if rec.ExeDeleted {
		add("deleted_exe", "executable deleted while running")
	}
	if rec.ExeIsMemfd {
		add("memfd_exe", "fileless execution (memfd)")
	}
	for _, dir := range tmpDirs {
		if strings.HasPrefix(rec.ExePath, dir) {
			add("tmp_exe", fmt.Sprintf("running from temp dir %s", dir))
			break
		}
	}
	if rec.ExeWorldWritable {
		add("world_writable_exe", "executable is world-writable")
	}
	if rec.MapsHasWX {
		add("wx_mem", "memory segment with W+X permissions")
	}

	cmdStr := strings.Join(rec.Cmdline, " ")
	if len(rec.Cmdline) == 0 {
		if rec.ExePath != "" && !isKernelThread {
			add("empty_cmdline", "empty cmdline with a resolvable executable")
		}
	} else if len(cmdStr) <= 3 {
		add("short_cmdline", "very short cmdline")
	}
	if strings.Contains(strings.ToLower(cmdStr), "base64") {
		add("obfuscated_cmdline", "possible obfuscation (base64) in cmdline")
	}
	if hasWholeToken(cmdStr, "eval") || hasWholeToken(cmdStr, "exec") {
		add("code_exec_cmdline", "possible code execution primitive in cmdline")
	}
	if len(rec.Cmdline) > 0 && rec.Name != "" {
		argv0 := filepath.Base(rec.Cmdline[0])
		if argv0 != rec.Name {
			add("name_argv_mismatch", fmt.Sprintf("name/argv mismatch: %s != %s", rec.Name, argv0))
		}
	}

	if isInterpreter(rec.Name) && unusualParents[rec.ParentName] {
		add("unusual_parent", fmt.Sprintf("unusual parent-child: %s -> %s", rec.ParentName, rec.Name))
	}

	if rec.EnvFlags["LD_PRELOAD"] || rec.EnvFlags["LD_LIBRARY_PATH"] {
		add("ld_preload", "LD_PRELOAD/LD_LIBRARY_PATH is set")
	}

	if rec.TracerPID != 0 {
		add("ptraced", fmt.Sprintf("being ptraced by pid %d", rec.TracerPID))
	}
	if rec.CPUPercent > e.CPUHigh {
		add("high_cpu", fmt.Sprintf("high CPU %.1f%%", rec.CPUPercent))
	}
	if !rec.HasTTY && isInterpreter(rec.Name) {
		add("no_tty", fmt.Sprintf("%s running without a TTY (reverse shell?)", rec.Name))
	}

	var watched []int
	for _, p := range rec.RemotePorts {
		if e.WatchPorts[p] {
			watched = append(watched, p)
		}
	}
	if len(watched) > 0 {
		add("watched_port", fmt.Sprintf("outbound to watched port(s): %v", watched))
	}
	if rec.OutboundConns >= 20 {
		add("many_conns", fmt.Sprintf("many outbound connections (%d)", rec.OutboundConns))
	}

	if rec.ExePath == "" && rec.PID != 2 {
		add("no_exe", "no executable path found")
	}

	return findings
}

// hasWholeToken reports whether token appears in s as a standalone word,
// not merely as a substring of a longer identifier.
func hasWholeToken(s, token string) bool {
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || r == '_')
	}) {
		if field == token {
			return true
		}
	}
	return false
}

// ParsePorts parses a comma-separated port list (the config's "ports" key)
// into a lookup set.
func ParsePorts(csv string) map[int]bool {
	out := make(map[int]bool)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if p, err := strconv.Atoi(part); err == nil {
			out[p] = true
		}
	}
	return out
}
