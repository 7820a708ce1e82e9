// Package kernelfs abstracts the kernel's per-process state tree exposed at
// /proc. Every read folds permission denial, vanished PIDs, and partial
// reads into a benign absence — it never returns an error through to the
// feature extractor.
package kernelfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Root is the mount point of the kernel process tree. A package variable
// rather than a constant so tests can point it at a fixture directory.
var Root = "/proc"

// Source reads the kernel-exported per-process state tree.
type Source struct {
	root string
}

// New returns a Source rooted at the kernel's default process tree.
func New() *Source {
	return &Source{root: Root}
}

// NewAt returns a Source rooted at an arbitrary directory, for tests that
// lay out a synthetic /proc.
func NewAt(root string) *Source {
	return &Source{root: root}
}

func (s *Source) pidDir(pid int) string {
	return filepath.Join(s.root, strconv.Itoa(pid))
}

// ListPIDs returns every numeric entry directly under the process root.
func (s *Source) ListPIDs() []int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// ReadSmall reads a short attribute file under /proc/<pid>/. Returns nil on
// absence, permission denial, or a vanished PID — never an error.
func (s *Source) ReadSmall(pid int, name string) []byte {
	data, err := os.ReadFile(filepath.Join(s.pidDir(pid), name))
	if err != nil {
		return nil
	}
	return data
}

// deletedSuffix is the marker the kernel appends to a symlink target when
// the backing inode has been unlinked while the process still holds it open.
const deletedSuffix = " (deleted)"

// ReadLink resolves a symbolic attribute (exe, cwd, an fd entry). Returns
// ("", false) on absence. Returns (target, true) with the deleted marker
// recognized and reported via the deleted bool, matching the kernel's
// "<path> (deleted)" convention.
func (s *Source) ReadLink(pid int, link string) (target string, deleted bool, ok bool) {
	raw, err := os.Readlink(filepath.Join(s.pidDir(pid), link))
	if err != nil {
		return "", false, false
	}
	if strings.HasSuffix(raw, deletedSuffix) {
		return strings.TrimSuffix(raw, deletedSuffix), true, true
	}
	return raw, false, true
}

// FDEntry is one entry of a process's file-descriptor table: the numeric fd
// and the symlink target it resolves to (e.g. "socket:[12345]").
type FDEntry struct {
	FD     int
	Target string
}

// ListFD lists the file-descriptor table of a process. Absent/unreadable
// yields an empty slice.
func (s *Source) ListFD(pid int) []FDEntry {
	dir := filepath.Join(s.pidDir(pid), "fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]FDEntry, 0, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, FDEntry{FD: fd, Target: target})
	}
	return out
}

// ReadLines reads an attribute file and splits it into lines, capping at
// limitLines to bound pathological files. Absent/unreadable yields nil.
func (s *Source) ReadLines(pid int, name string, limitLines int) []string {
	data := s.ReadSmall(pid, name)
	if data == nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	if limitLines > 0 && len(lines) > limitLines {
		lines = lines[:limitLines]
	}
	return lines
}

// FileMode returns the mode bits of a file, and whether the stat succeeded.
func FileMode(path string) (os.FileMode, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Mode(), true
}
