package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-pm/chai/pkg/pipeline"
)

func TestHealthzReportsStatuses(t *testing.T) {
	reg := NewRegistry()
	reg.Record("crates", pipeline.Stats{NewPackages: 3, Duration: time.Second}, nil)

	srv := NewServer(":0", reg, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, 200, rec.Code)
	var body struct {
		Healthy   bool     `json:"healthy"`
		Pipelines []Status `json:"pipelines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Healthy)
	require.Len(t, body.Pipelines, 1)
	assert.Equal(t, "crates", body.Pipelines[0].Pipeline)
	assert.Equal(t, 3, body.Pipelines[0].Stats.NewPackages)
}

func TestHealthzUnhealthyAfterFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Record("debian", pipeline.Stats{}, assert.AnError)

	srv := NewServer(":0", reg, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 503, rec.Code)
	assert.False(t, reg.Healthy())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := NewRegistry()
	reg.Record("crates", pipeline.Stats{NewPackages: 5}, nil)

	srv := NewServer(":0", reg, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "chai_pipeline_runs_total")
	assert.Contains(t, rec.Body.String(), `chai_pipeline_delta_rows{entity="new_packages",pipeline="crates"} 5`)
}
