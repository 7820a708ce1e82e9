// Package whitelist reduces the score of trusted processes while refusing
// to suppress severe individual findings.
package whitelist

import (
	"path/filepath"

	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

// severeWeight is the per-finding weight at or above which whitelist
// suppression is refused entirely, per spec.
const severeWeight = 5.0

// reductionAmount is subtracted from the heuristic score (never below 0)
// when a process matches the whitelist and no finding is severe.
const reductionAmount = 3.0

// Config is the whitelist's four match classes, as read from configuration.
type Config struct {
	Names    []string
	Users    []string
	Patterns []string
	Hashes   []string
	Paths    []string
}

// Whitelist is a compiled set-of-patterns filter.
type Whitelist struct {
	names    map[string]bool
	users    map[string]bool
	hashes   map[string]bool
	paths    map[string]bool
	patterns []string
}

// New compiles a Config into a Whitelist.
func New(cfg Config) *Whitelist {
	toSet := func(items []string) map[string]bool {
		m := make(map[string]bool, len(items))
		for _, i := range items {
			m[i] = true
		}
		return m
	}
	return &Whitelist{
		names:    toSet(cfg.Names),
		users:    toSet(cfg.Users),
		hashes:   toSet(cfg.Hashes),
		paths:    toSet(cfg.Paths),
		patterns: cfg.Patterns,
	}
}

// Matches reports whether rec matches any of the four whitelist classes:
// exact name, exact user, pattern glob (tried against both the exe path and
// the process name), or exact hash/path.
func (w *Whitelist) Matches(rec procmodel.ProcessRecord) bool {
	if w.names[rec.Name] {
		return true
	}
	if w.users[rec.User] {
		return true
	}
	if rec.ExeSHA256 != "" && w.hashes[rec.ExeSHA256] {
		return true
	}
	if w.paths[rec.ExePath] {
		return true
	}
	for _, pat := range w.patterns {
		if ok, _ := filepath.Match(pat, rec.ExePath); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, rec.Name); ok {
			return true
		}
	}
	return false
}

// Apply reduces heuristicScore by reductionAmount (never below 0)
// and marks Whitelisted=true when the record matches the whitelist and no
// individual finding weight is severe. Matching findings' reasons get a
// "(whitelisted)" suffix regardless of whether the reduction applied, so
// the rationale remains auditable — the suffix communicates "this record
// matched the whitelist", not "this specific finding was suppressed".
func (w *Whitelist) Apply(rec procmodel.ProcessRecord, findings []procmodel.Finding, heuristicScore float64) ([]procmodel.Finding, float64, bool) {
	if !w.Matches(rec) {
		return findings, heuristicScore, false
	}

	hasSevere := false
	for _, f := range findings {
		if f.Weight >= severeWeight {
			hasSevere = true
			break
		}
	}

	out := make([]procmodel.Finding, len(findings))
	for i, f := range findings {
		out[i] = procmodel.Finding{Weight: f.Weight, Reason: f.Reason + " (whitelisted)"}
	}

	if hasSevere {
		return out, heuristicScore, false
	}

	reduced := heuristicScore - reductionAmount
	if reduced < 0 {
		reduced = 0
	}
	return out, reduced, true
}
