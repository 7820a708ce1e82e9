package features

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/procwatch/internal/kernelfs"
	"github.com/lucid-vigil/procwatch/internal/netstat"
)

func makeProcFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	pidDir := filepath.Join(root, "42")
	require.NoError(t, os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755))

	status := "Name:\tworker\nPPid:\t1\nUid:\t1000\t1000\t1000\t1000\nTracerPid:\t0\nThreads:\t3\nVmRSS:\t2048 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "status"), []byte(status), 0o644))

	parentDir := filepath.Join(root, "1")
	require.NoError(t, os.MkdirAll(parentDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parentDir, "status"), []byte("Name:\tsystemd\nPPid:\t0\n"), 0o644))

	exePath := filepath.Join(root, "worker-bin")
	require.NoError(t, os.WriteFile(exePath, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Symlink(exePath, filepath.Join(pidDir, "exe")))
	require.NoError(t, os.Symlink(root, filepath.Join(pidDir, "cwd")))

	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "cmdline"), []byte("worker\x00--flag\x00"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "environ"), []byte("LD_PRELOAD=/tmp/evil.so\x00PATH=/usr/bin\x00"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "maps"), []byte("00400000-00401000 r-xp 00000000 00:00 0\n7f0000000000-7f0000001000 rwxp 00000000 00:00 0\n"), 0o644))

	// stat: pid (comm) state ppid pgrp session tty_nr ...
	stat := "42 (worker) S 1 42 42 0 -1 4194304 100 0 0 0 10 5 0 0 20 0 3 0 12345 0 0 18446744073709551615\n"
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "stat"), []byte(stat), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(root, "uptime"), []byte("100000.0 90000.0\n"), 0o644))

	return root
}

func TestExtract_FullRecord(t *testing.T) {
	root := makeProcFixture(t)
	src := kernelfs.NewAt(root)
	net := netstat.Build(root)
	x := New(src, net, root)

	rec, ok := x.Extract(42)
	require.True(t, ok)

	assert.Equal(t, 42, rec.PID)
	assert.Equal(t, 1, rec.PPID)
	assert.Equal(t, "worker", rec.Name)
	assert.Equal(t, "systemd", rec.ParentName)
	assert.Equal(t, "1000", rec.User)
	assert.Equal(t, []string{"worker", "--flag"}, rec.Cmdline)
	assert.True(t, rec.EnvFlags["LD_PRELOAD"])
	assert.False(t, rec.EnvFlags["PYTHONPATH"])
	assert.True(t, rec.MapsHasWX)
	assert.False(t, rec.HasTTY, "tty_nr field is 0 in the fixture")
	assert.Equal(t, 3, rec.ThreadCount)
	assert.Equal(t, 2.0, rec.MemMB)
	assert.NotEmpty(t, rec.ExeSHA256)
	assert.False(t, rec.ExeDeleted)
}

func TestExtract_VanishedProcessReturnsFalse(t *testing.T) {
	root := t.TempDir()
	src := kernelfs.NewAt(root)
	net := netstat.Build(root)
	x := New(src, net, root)

	_, ok := x.Extract(9999)
	assert.False(t, ok)
}

func TestExtract_DeletedExecutable(t *testing.T) {
	root := t.TempDir()
	pidDir := filepath.Join(root, "7")
	require.NoError(t, os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "status"), []byte("Name:\tghost\nPPid:\t1\n"), 0o644))
	require.NoError(t, os.Symlink("/opt/ghost (deleted)", filepath.Join(pidDir, "exe")))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "cmdline"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "stat"), []byte("7 (ghost) S 1 7 7 0 -1 4194304 0 0 0 0 0 0 0 0 20 0 1 0 0 0 0 0\n"), 0o644))

	src := kernelfs.NewAt(root)
	x := New(src, nil, root)
	rec, ok := x.Extract(7)
	require.True(t, ok)
	assert.True(t, rec.ExeDeleted)
	assert.Equal(t, "/opt/ghost", rec.ExePath)
}
