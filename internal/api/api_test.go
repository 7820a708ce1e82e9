package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

func TestHealthzHandler(t *testing.T) {
	srv := NewServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.healthzHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsHandler_ReflectsLastUpdate(t *testing.T) {
	srv := NewServer()
	srv.Update(procmodel.PassResult{
		Findings: []procmodel.ScoredRecord{
			{Status: procmodel.StatusCritical},
			{Status: procmodel.StatusWarning},
		},
		All: []procmodel.ScoredRecord{
			{Status: procmodel.StatusCritical},
			{Status: procmodel.StatusWarning},
			{Status: procmodel.StatusNormal},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.metricsHandler(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `procwatch_flagged_processes{status="critical"} 1`)
	assert.Contains(t, body, `procwatch_flagged_processes{status="warning"} 1`)
	assert.Contains(t, body, "procwatch_passes_total 1")
}

func TestSnapshotHandler_ReturnsAllAndFindings(t *testing.T) {
	srv := NewServer()
	srv.Update(procmodel.PassResult{
		All: []procmodel.ScoredRecord{
			{Record: procmodel.ProcessRecord{PID: 123}, TotalScore: 6},
			{Record: procmodel.ProcessRecord{PID: 456}, TotalScore: 1},
		},
		Findings: []procmodel.ScoredRecord{
			{Record: procmodel.ProcessRecord{PID: 123}, TotalScore: 6},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.snapshotHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.All, 2)
	require.Len(t, out.Findings, 1)
	assert.Equal(t, 123, out.Findings[0].Record.PID)
	assert.Equal(t, 456, out.All[1].Record.PID)
}

func TestSnapshotHandler_EmptyBeforeFirstUpdate(t *testing.T) {
	srv := NewServer()
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.snapshotHandler(rec, req)

	var out snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out.All)
	assert.Empty(t, out.Findings)
}
