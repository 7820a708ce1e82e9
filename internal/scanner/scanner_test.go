package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/procwatch/internal/heuristics"
	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

func writeProc(t *testing.T, root string, pid int, name string, ppid int, cmdline []string, deleted bool) {
	t.Helper()
	pidDir := filepath.Join(root, itoa(pid))
	require.NoError(t, os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755))
	status := "Name:\t" + name + "\nPPid:\t" + itoa(ppid) + "\nThreads:\t1\nVmRSS:\t1024 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "status"), []byte(status), 0o644))

	exe := filepath.Join(root, name+"-bin")
	if !deleted {
		require.NoError(t, os.WriteFile(exe, []byte("x"), 0o755))
		require.NoError(t, os.Symlink(exe, filepath.Join(pidDir, "exe")))
	} else {
		require.NoError(t, os.Symlink(exe+" (deleted)", filepath.Join(pidDir, "exe")))
	}

	cmd := ""
	for _, c := range cmdline {
		cmd += c + "\x00"
	}
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "cmdline"), []byte(cmd), 0o644))
	stat := itoa(pid) + " (" + name + ") S " + itoa(ppid) + " " + itoa(pid) + " " + itoa(pid) + " 0 -1 4194304 0 0 0 0 0 0 0 0 20 0 1 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "stat"), []byte(stat), 0o644))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// fixtureWeights returns the default weights with tmp_exe zeroed: writeProc
// places every executable under t.TempDir(), which on Linux normally lies
// below /tmp/, and the scores asserted here must not depend on that.
func fixtureWeights() heuristics.Weights {
	w := heuristics.DefaultWeights()
	w["tmp_exe"] = 0
	return w
}

func TestPass_RanksAndFiltersByMinScore(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 10, "clean", 1, []string{"clean"}, false)
	writeProc(t, root, 20, "ghost", 1, nil, true)

	eval := heuristics.New(fixtureWeights(), 90.0, nil)
	s := New(eval, Options{ProcRoot: root, MinScore: 1, TopK: 0})

	pass := s.Pass(context.Background())
	require.Len(t, pass.Findings, 1)
	assert.Equal(t, 20, pass.Findings[0].Record.PID)
	// deleted_exe (4) + empty_cmdline (1) = 5
	assert.Equal(t, procmodel.StatusWarning, pass.Findings[0].Status)

	// the below-threshold clean process is filtered from Findings but still
	// present in All, so consumers that want every process can see it.
	require.Len(t, pass.All, 2)
}

func TestPass_TopKTruncates(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 10, "ghost1", 1, nil, true)
	writeProc(t, root, 20, "ghost2", 1, nil, true)
	writeProc(t, root, 30, "ghost3", 1, nil, true)

	eval := heuristics.New(heuristics.DefaultWeights(), 90.0, nil)
	s := New(eval, Options{ProcRoot: root, MinScore: 0, TopK: 2})

	pass := s.Pass(context.Background())
	assert.Len(t, pass.Findings, 2)
	// TopK truncates Findings only; All still reports every process seen.
	assert.Len(t, pass.All, 3)
}

func TestPass_MinScoreZeroReturnsEverything(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 10, "clean", 1, []string{"clean"}, false)

	eval := heuristics.New(fixtureWeights(), 90.0, nil)
	s := New(eval, Options{ProcRoot: root, MinScore: 0})

	pass := s.Pass(context.Background())
	require.Len(t, pass.Findings, 1)
	assert.Equal(t, 0.0, pass.Findings[0].TotalScore)
}

func TestRunTraining_CollectsVectorsAcrossPasses(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 10, "clean", 1, []string{"clean"}, false)

	eval := heuristics.New(heuristics.DefaultWeights(), 90.0, nil)
	s := New(eval, Options{ProcRoot: root})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	vectors := s.RunTraining(ctx, 200*time.Millisecond, 20*time.Millisecond)
	assert.NotEmpty(t, vectors)
}
