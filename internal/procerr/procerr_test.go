package procerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanError_ErrorFormatsWithAndWithoutCause(t *testing.T) {
	withCause := NewConfigError("config", "bad yaml", errors.New("boom"))
	assert.Contains(t, withCause.Error(), "config")
	assert.Contains(t, withCause.Error(), "bad yaml")
	assert.Contains(t, withCause.Error(), "boom")

	noCause := &ScanError{Component: "model", Kind: KindModel, Severity: SeverityFatal, Message: "unknown kind"}
	assert.Equal(t, `[model] model: unknown kind`, noCause.Error())
}

func TestScanError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewModelError("anomaly", "feature mismatch", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestNewConfigError_Fields(t *testing.T) {
	err := NewConfigError("config", "missing file", nil)
	assert.Equal(t, KindConfig, err.Kind)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Nil(t, err.Cause)
}
