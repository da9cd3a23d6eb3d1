package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/dalil/internal/models"
)

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1:8b", req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "Context:")
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  Rendez-vous au poste de police.  ", Done: true})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL})
	assert.Equal(t, DefaultModel, o.Model())
	out, err := o.Generate(context.Background(), "User: x\n\nContext:\ny")
	require.NoError(t, err)
	assert.Equal(t, "  Rendez-vous au poste de police.  ", out)
}

func TestOllama_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllama_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := o.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Equal(t, "none", Unavailable{}.Model())
}
