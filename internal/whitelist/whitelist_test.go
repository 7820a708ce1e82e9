package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

func TestMatches(t *testing.T) {
	w := New(Config{
		Names:    []string{"sshd"},
		Users:    []string{"0"},
		Patterns: []string{"/usr/bin/*"},
		Hashes:   []string{"deadbeef"},
		Paths:    []string{"/opt/trusted/app"},
	})

	assert.True(t, w.Matches(procmodel.ProcessRecord{Name: "sshd"}))
	assert.True(t, w.Matches(procmodel.ProcessRecord{User: "0"}))
	assert.True(t, w.Matches(procmodel.ProcessRecord{ExePath: "/usr/bin/curl"}))
	assert.True(t, w.Matches(procmodel.ProcessRecord{ExeSHA256: "deadbeef"}))
	assert.True(t, w.Matches(procmodel.ProcessRecord{ExePath: "/opt/trusted/app"}))
	assert.False(t, w.Matches(procmodel.ProcessRecord{Name: "evil", User: "1000", ExePath: "/tmp/evil"}))
}

func TestApply_ReducesScoreWhenNotSevere(t *testing.T) {
	w := New(Config{Names: []string{"cron"}})
	rec := procmodel.ProcessRecord{Name: "cron"}
	findings := []procmodel.Finding{{Weight: 1, Reason: "short_cmdline"}}

	out, score, whitelisted := w.Apply(rec, findings, 4.0)

	assert.True(t, whitelisted)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "short_cmdline (whitelisted)", out[0].Reason)
}

func TestApply_NeverBelowZero(t *testing.T) {
	w := New(Config{Names: []string{"cron"}})
	rec := procmodel.ProcessRecord{Name: "cron"}

	_, score, whitelisted := w.Apply(rec, nil, 1.0)

	assert.True(t, whitelisted)
	assert.Equal(t, 0.0, score)
}

func TestApply_SevereFindingBypassesReduction(t *testing.T) {
	w := New(Config{Names: []string{"cron"}})
	rec := procmodel.ProcessRecord{Name: "cron"}
	findings := []procmodel.Finding{
		{Weight: 1, Reason: "short_cmdline"},
		{Weight: 5, Reason: "being ptraced by pid 1234"},
	}

	out, score, whitelisted := w.Apply(rec, findings, 6.0)

	assert.False(t, whitelisted)
	assert.Equal(t, 6.0, score)
	// Reasons still get the audit suffix even though the score wasn't reduced.
	for _, f := range out {
		assert.Contains(t, f.Reason, "(whitelisted)")
	}
}

func TestApply_NoMatchLeavesInputsUnchanged(t *testing.T) {
	w := New(Config{Names: []string{"cron"}})
	rec := procmodel.ProcessRecord{Name: "evil"}
	findings := []procmodel.Finding{{Weight: 2, Reason: "tmp_exe"}}

	out, score, whitelisted := w.Apply(rec, findings, 2.0)

	assert.False(t, whitelisted)
	assert.Equal(t, 2.0, score)
	assert.Equal(t, findings, out)
}
