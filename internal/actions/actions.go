// Package actions carries out the response side of a scan pass: always an
// alert log line, optionally a forensic evidence dump and/or a kill signal.
package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/procwatch/internal/procerr"
	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

// Action is one defensive or forensic step the executor can take against a
// scored record.
type Action interface {
	Name() string
	Execute(ctx context.Context, rec procmodel.ScoredRecord) error
}

// Executor runs the configured set of actions against every scored record in
// a pass, always logging an alert line first regardless of configuration.
type Executor struct {
	actions map[string]Action
	order   []string
	mu      sync.RWMutex
}

// NewExecutor returns an Executor with no actions registered.
func NewExecutor() *Executor {
	return &Executor{actions: make(map[string]Action)}
}

// Register adds an action, preserving registration order for Run.
func (e *Executor) Register(a Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.actions[a.Name()]; !exists {
		e.order = append(e.order, a.Name())
	}
	e.actions[a.Name()] = a
	log.Info().Str("action", a.Name()).Msg("action registered")
}

// Run emits the alert line for rec, then runs every registered action in
// registration order. An action failure is logged and does not block the
// remaining actions.
func (e *Executor) Run(ctx context.Context, rec procmodel.ScoredRecord) {
	logAlert(rec)

	e.mu.RLock()
	names := append([]string(nil), e.order...)
	e.mu.RUnlock()

	for _, name := range names {
		e.mu.RLock()
		a := e.actions[name]
		e.mu.RUnlock()

		if err := a.Execute(ctx, rec); err != nil {
			log.Error().Err(err).Str("action", name).Int("pid", rec.Record.PID).Msg("action failed")
		}
	}
}

func logAlert(rec procmodel.ScoredRecord) {
	reasons := make([]string, 0, len(rec.Findings))
	for _, f := range rec.Findings {
		reasons = append(reasons, f.Reason)
	}
	ev := log.Warn()
	if rec.Status == procmodel.StatusCritical {
		ev = log.Error()
	}
	ev.Int("pid", rec.Record.PID).
		Str("name", rec.Record.Name).
		Str("user", rec.Record.User).
		Float64("total_score", rec.TotalScore).
		Float64("heuristic_score", rec.HeuristicScore).
		Float64("ml_score", rec.MLScore).
		Str("status", string(rec.Status)).
		Bool("whitelisted", rec.Whitelisted).
		Strs("reasons", reasons).
		Msg("process flagged")
}

// KillAction sends SIGKILL to a flagged process's PID. Unlike the
// terminate-then-kill policy used elsewhere, a scan target is assumed
// hostile enough that a graceful SIGTERM is not worth the delay.
type KillAction struct{}

func (KillAction) Name() string { return "kill" }

func (KillAction) Execute(_ context.Context, rec procmodel.ScoredRecord) error {
	pid := rec.Record.PID
	proc, err := os.FindProcess(pid)
	if err != nil {
		return &procerr.ScanError{Component: "actions.kill", Kind: procerr.KindAction, Severity: procerr.SeverityWarn, Message: fmt.Sprintf("find pid %d", pid), Cause: err}
	}
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return &procerr.ScanError{Component: "actions.kill", Kind: procerr.KindAction, Severity: procerr.SeverityWarn, Message: fmt.Sprintf("signal pid %d", pid), Cause: err}
	}
	log.Info().Int("pid", pid).Msg("sent SIGKILL to flagged process")
	return nil
}

// DumpAction writes a forensic evidence directory for every flagged process:
// its cmdline, environ, maps, fd table, a copy of (or error reading) its
// executable, and a manifest recording the SHA-256 of every captured file.
type DumpAction struct {
	BaseDir  string
	ProcRoot string
}

func (DumpAction) Name() string { return "dump" }

// manifestEntry records one captured file's integrity hash, the forensic
// equivalent of the teacher's evidence chain-of-custody hash field.
type manifestEntry struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (d DumpAction) Execute(_ context.Context, rec procmodel.ScoredRecord) error {
	procRoot := d.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	pid := rec.Record.PID
	dir := filepath.Join(d.BaseDir, fmt.Sprintf("%d_%s", pid, time.Now().UTC().Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &procerr.ScanError{Component: "actions.dump", Kind: procerr.KindAction, Severity: procerr.SeverityWarn, Message: "create dump dir", Cause: err}
	}

	var manifest []manifestEntry
	pidDir := filepath.Join(procRoot, fmt.Sprint(pid))

	for _, name := range []string{"cmdline", "environ", "maps"} {
		manifest = append(manifest, copyFile(filepath.Join(pidDir, name), filepath.Join(dir, name)))
	}
	manifest = append(manifest, dumpFDs(filepath.Join(pidDir, "fd"), filepath.Join(dir, "fds")))

	exeEntry := copyExecutable(rec.Record.ExePath, filepath.Join(dir, "exe"))
	if exeEntry.Error != "" {
		if err := os.WriteFile(filepath.Join(dir, "exe.error"), []byte(exeEntry.Error), 0o640); err != nil {
			log.Warn().Err(err).Int("pid", pid).Msg("write exe.error")
		}
	}
	manifest = append(manifest, exeEntry)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return &procerr.ScanError{Component: "actions.dump", Kind: procerr.KindAction, Severity: procerr.SeverityWarn, Message: "marshal manifest", Cause: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o640); err != nil {
		return &procerr.ScanError{Component: "actions.dump", Kind: procerr.KindAction, Severity: procerr.SeverityWarn, Message: "write manifest", Cause: err}
	}

	log.Info().Int("pid", pid).Str("dir", dir).Msg("wrote evidence dump")
	return nil
}

func copyFile(src, dst string) manifestEntry {
	name := filepath.Base(dst)
	in, err := os.Open(src)
	if err != nil {
		return manifestEntry{File: name, Error: err.Error()}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return manifestEntry{File: name, Error: err.Error()}
	}
	defer out.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		return manifestEntry{File: name, Error: err.Error()}
	}
	return manifestEntry{File: name, SHA256: hex.EncodeToString(h.Sum(nil))}
}

func copyExecutable(exePath, dst string) manifestEntry {
	if exePath == "" {
		return manifestEntry{File: "exe", Error: "no executable path recorded"}
	}
	return copyFile(exePath, dst)
}

func dumpFDs(fdDir, dst string) manifestEntry {
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return manifestEntry{File: "fds", Error: err.Error()}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil {
			continue
		}
		lines = append(lines, e.Name()+" -> "+target)
	}
	data := []byte{}
	for _, l := range lines {
		data = append(data, []byte(l+"\n")...)
	}
	if err := os.WriteFile(dst, data, 0o640); err != nil {
		return manifestEntry{File: "fds", Error: err.Error()}
	}
	h := sha256.Sum256(data)
	return manifestEntry{File: "fds", SHA256: hex.EncodeToString(h[:])}
}
