package compute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackend_StartAndDescribe(t *testing.T) {
	var gotAuth string
	var gotSpec OperationSpec

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/projects/demo/exports", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSpec))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "exp-42"})
	})
	mux.HandleFunc("GET /v1/projects/demo/exports/exp-42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "exp-42", "active": false, "state": "COMPLETED"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL, Project: "demo", Token: "sekrit"})
	require.NoError(t, err)

	h, err := b.Start(context.Background(), OperationSpec{
		Description: "NDVI_2024_01",
		Operation:   "index:NDVI",
		Bucket:      "exports",
		FilePrefix:  "job_x/NDVI/NDVI_2024_01",
	})
	require.NoError(t, err)
	assert.Equal(t, TaskHandle("exp-42"), h)
	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "index:NDVI", gotSpec.Operation)

	active, err := b.IsActive(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, active)

	state, err := b.TerminalState(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestHTTPBackend_StartMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	b, err := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL, Project: "demo"})
	require.NoError(t, err)

	_, err = b.Start(context.Background(), OperationSpec{Description: "NDVI_2024_01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task id")
}

func TestHTTPBackend_ErrorStatusIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "project quota exhausted", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b, err := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL, Project: "demo"})
	require.NoError(t, err)

	_, err = b.Start(context.Background(), OperationSpec{Description: "op"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestNewHTTPBackend_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  HTTPConfig
	}{
		{"missing base url", HTTPConfig{Project: "demo"}},
		{"missing project", HTTPConfig{BaseURL: "https://compute.example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPBackend(tt.cfg)
			assert.Error(t, err)
		})
	}
}
