package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/eventlog"
	"github.com/hyperjump/dalil/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			RawDir:         filepath.Join(dir, "raw"),
			IndexDir:       filepath.Join(dir, "index"),
			DatabasePath:   filepath.Join(dir, "catalog.db"),
			EventLogPath:   filepath.Join(dir, "run.log"),
			EvalReportPath: filepath.Join(dir, "report.md"),
		},
		Embedding:  config.EmbeddingConfig{Provider: "hash", Dimensions: 64},
		Retrieval:  config.RetrievalConfig{TopK: 1},
		Generation: config.GenerationConfig{Provider: "none"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNew_QueryUsesConfiguredTopK(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Storage.RawDir, 0o755))
	for name, text := range map[string]string{
		"a.txt": "Renouvellement de la carte d'identité nationale.",
		"b.txt": "Carte grise et immatriculation du véhicule.",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.RawDir, name), []byte(text), 0o644))
	}

	rec := &eventlog.Recorder{}
	a, err := New(cfg, nil, WithEventSink(rec), WithEmbedder(embedding.NewHashEmbedder(64)))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	res, err := a.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)

	resp, err := a.Query(ctx, models.QueryRequest{Text: "carte d'identité nationale"})
	require.NoError(t, err)
	assert.Len(t, resp.Retrieved, 1)
	assert.Equal(t, "a.txt", resp.Retrieved[0].Source)

	docs, err := a.Documents(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Documents)
	assert.Equal(t, "none", st.Config.GenerationModel)
	require.NotNil(t, st.LastIngest)
	assert.Equal(t, st.Corpus.Generation, st.LastIngest.Generation)
}

func TestNew_StatusBeforeIngest(t *testing.T) {
	a, err := New(testConfig(t), nil, WithEventSink(eventlog.Nop{}), WithEmbedder(embedding.NewHashEmbedder(64)))
	require.NoError(t, err)
	defer a.Close()

	st, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
	assert.Empty(t, st.Corpus.Generation)
	assert.Nil(t, st.LastIngest)
}

func TestNew_RejectsUnsupportedExtension(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Extensions = []string{".odt"}
	_, err := New(cfg, nil, WithEventSink(eventlog.Nop{}))
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(testConfig(t), nil, WithEmbedder(embedding.NewHashEmbedder(64)))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestWarmup(t *testing.T) {
	a, err := New(testConfig(t), nil, WithEventSink(eventlog.Nop{}))
	require.NoError(t, err)
	defer a.Close()

	info, err := a.Warmup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hash", info.Provider)
	assert.Equal(t, 64, info.Dimensions)
}
