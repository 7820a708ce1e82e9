// Package features assembles a procmodel.ProcessRecord from the kernel's
// per-process state tree. It is the bulk of the scanning pipeline: many
// small, independently-failing reads folded into one best-effort snapshot.
package features

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/tklauser/go-sysconf"

	"github.com/lucid-vigil/procwatch/internal/kernelfs"
	"github.com/lucid-vigil/procwatch/internal/netstat"
	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

// cpuSampleWindow is the wall-clock window the CPU sampler blocks for per
// process, per spec §4.3 point 8 ("two reads separated by ~100ms").
const cpuSampleWindow = 100 * time.Millisecond

// MaxExtractionTime is the recommended budget for a single PID's extraction.
// Nothing enforces it: neither Extract nor the scanner applies a deadline,
// so a slow PID delays the rest of the pass.
const MaxExtractionTime = 250 * time.Millisecond

// Extractor builds ProcessRecords from the kernel process tree and a
// pre-built network table.
type Extractor struct {
	src      *kernelfs.Source
	net      *netstat.Table
	procRoot string
}

// New returns an Extractor reading from src and resolving socket inodes
// against net.
func New(src *kernelfs.Source, net *netstat.Table, procRoot string) *Extractor {
	return &Extractor{src: src, net: net, procRoot: procRoot}
}

// Extract assembles a ProcessRecord for pid. ok is false only when the
// process's identity could not be captured at all (it vanished before the
// status file could be read) — every other failure is absorbed into a
// documented default field value.
func (x *Extractor) Extract(pid int) (procmodel.ProcessRecord, bool) {
	status := x.src.ReadSmall(pid, "status")
	if status == nil {
		return procmodel.ProcessRecord{}, false
	}
	fields := parseStatusFields(status)

	rec := procmodel.ProcessRecord{
		PID:       pid,
		Name:      fields["Name"],
		PPID:      atoiDefault(fields["PPid"], 0),
		User:      firstTabField(fields["Uid"]),
		TracerPID: atoiDefault(fields["TracerPid"], 0),
		Timestamp: time.Now(),
		EnvFlags:  map[string]bool{},
	}

	rec.ParentName = x.readName(rec.PPID)

	x.fillExecutable(pid, &rec)
	if cwd, _, ok := x.src.ReadLink(pid, "cwd"); ok {
		rec.Cwd = cwd
	}
	rec.Cmdline = x.readCmdline(pid)
	rec.EnvFlags = x.readEnvFlags(pid)
	rec.MapsHasWX = x.readMapsHasWX(pid)
	rec.HasTTY = x.readHasTTY(pid)
	rec.CPUPercent = x.readCPUPercent(pid)

	if n, err := strconv.Atoi(fields["Threads"]); err == nil {
		rec.ThreadCount = n
	}
	rec.FDCount = len(x.src.ListFD(pid))
	rec.MemMB = parseVmRSSKB(fields["VmRSS"]) / 1024.0

	rec.OutboundConns, rec.RemotePorts = x.readNetwork(pid)

	return rec, true
}

// readName does a second, independent lookup of a PID's short name — used
// to resolve parent_name by value rather than by holding a pointer to the
// parent's own record, so a vanished parent never produces a dangling
// reference.
func (x *Extractor) readName(pid int) string {
	if pid <= 0 {
		return ""
	}
	status := x.src.ReadSmall(pid, "status")
	if status == nil {
		return ""
	}
	return parseStatusFields(status)["Name"]
}

func (x *Extractor) fillExecutable(pid int, rec *procmodel.ProcessRecord) {
	target, deleted, ok := x.src.ReadLink(pid, "exe")
	if !ok {
		return
	}
	rec.ExePath = target
	rec.ExeDeleted = deleted
	if !deleted {
		if _, err := os.Stat(target); err != nil {
			rec.ExeDeleted = true
		}
	}
	rec.ExeIsMemfd = strings.HasPrefix(target, "/memfd:") || strings.HasPrefix(target, "memfd:")

	if mode, ok := kernelfs.FileMode(target); ok {
		rec.ExeWorldWritable = mode&0o002 != 0
	}

	if !rec.ExeDeleted && target != "" {
		if sum, ok := sha256File(target); ok {
			rec.ExeSHA256 = sum
		}
	}
}

func sha256File(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

func (x *Extractor) readCmdline(pid int) []string {
	raw := x.src.ReadSmall(pid, "cmdline")
	if raw == nil {
		return nil
	}
	parts := strings.Split(string(raw), "\x00")
	out := parts[:0:0]
	for _, p := range parts {
		out = append(out, p)
	}
	// trailing empties removed
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func (x *Extractor) readEnvFlags(pid int) map[string]bool {
	flags := make(map[string]bool, len(procmodel.EnvFlagNames))
	raw := x.src.ReadSmall(pid, "environ")
	if raw == nil {
		return flags
	}
	want := make(map[string]bool, len(procmodel.EnvFlagNames))
	for _, n := range procmodel.EnvFlagNames {
		want[n] = true
	}
	for _, pair := range strings.Split(string(raw), "\x00") {
		if pair == "" {
			continue
		}
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		if want[name] {
			flags[name] = true
		}
	}
	return flags
}

func (x *Extractor) readMapsHasWX(pid int) bool {
	lines := x.src.ReadLines(pid, "maps", 50000)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		perms := fields[1]
		if strings.ContainsRune(perms, 'w') && strings.ContainsRune(perms, 'x') {
			return true
		}
	}
	return false
}

func (x *Extractor) readHasTTY(pid int) bool {
	stat := x.src.ReadSmall(pid, "stat")
	if stat == nil {
		return false
	}
	// field 7 (tty_nr) follows "pid (comm) state ppid pgrp session tty_nr".
	// The comm field may itself contain spaces/parens, so split after the
	// closing paren of the command name rather than by naive Fields().
	s := string(stat)
	end := strings.LastIndexByte(s, ')')
	if end < 0 || end+2 >= len(s) {
		return false
	}
	rest := strings.Fields(s[end+2:])
	if len(rest) < 5 {
		return false
	}
	ttyNr, err := strconv.Atoi(rest[4])
	if err != nil {
		return false
	}
	return ttyNr != 0
}

func (x *Extractor) readCPUPercent(pid int) float64 {
	if p, err := process.NewProcess(int32(pid)); err == nil {
		if pct, err := p.Percent(cpuSampleWindow); err == nil {
			return pct
		}
	}
	return x.readCPUPercentFallback(pid)
}

func (x *Extractor) readCPUPercentFallback(pid int) float64 {
	stat := x.src.ReadSmall(pid, "stat")
	if stat == nil {
		return 0
	}
	s := string(stat)
	end := strings.LastIndexByte(s, ')')
	if end < 0 || end+2 >= len(s) {
		return 0
	}
	rest := strings.Fields(s[end+2:])
	if len(rest) < 13 {
		return 0
	}
	utime, err1 := strconv.ParseFloat(rest[11], 64)
	stime, err2 := strconv.ParseFloat(rest[12], 64)
	if err1 != nil || err2 != nil {
		return 0
	}

	uptime := readUptime(x.procRoot)
	if uptime <= 0 {
		return 0
	}
	clkTck := clockTicks()
	cpuTime := (utime + stime) / clkTck
	return (cpuTime / uptime) * 100.0
}

func clockTicks() float64 {
	if v, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && v > 0 {
		return float64(v)
	}
	return 100.0
}

func readUptime(procRoot string) float64 {
	data, err := os.ReadFile(filepath.Join(procRoot, "uptime"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

func (x *Extractor) readNetwork(pid int) (int, []int) {
	if x.net == nil {
		return 0, nil
	}
	var ports []int
	count := 0
	for _, fd := range x.src.ListFD(pid) {
		if !strings.HasPrefix(fd.Target, "socket:[") || !strings.HasSuffix(fd.Target, "]") {
			continue
		}
		inode := fd.Target[len("socket:[") : len(fd.Target)-1]
		entry, ok := x.net.Lookup(inode)
		if !ok {
			continue
		}
		if netstat.IsOutbound(entry) {
			count++
			ports = append(ports, entry.RemotePort)
		}
	}
	return count, ports
}

func parseStatusFields(raw []byte) map[string]string {
	out := make(map[string]string, 32)
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		out[key] = val
	}
	return out
}

func firstTabField(s string) string {
	if s == "" {
		return ""
	}
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		return s[:idx]
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseVmRSSKB(field string) float64 {
	if field == "" {
		return 0
	}
	fields := strings.Fields(field)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}
