package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/vector"
)

func newTestService(t *testing.T, dir string) *Service {
	t.Helper()
	provider := embedding.NewStaticProvider("hash", embedding.NewHashEmbedder(64))
	return NewService(provider, NewStore(dir, "memory"))
}

func TestService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir())

	_, err := svc.Build(ctx, []models.Chunk{
		{Source: "A", ChunkID: 0, Text: "bonjour"},
		{Source: "B", ChunkID: 0, Text: "xyz unrelated"},
	})
	require.NoError(t, err)

	results, err := svc.Retrieve(ctx, "bonjour", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "A", results[0].Source)
	assert.Equal(t, int64(0), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestService_OrderingAndTies(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir())

	_, err := svc.Build(ctx, []models.Chunk{
		{Source: "x", ChunkID: 0, Text: "impôt sur le revenu"},
		{Source: "dup", ChunkID: 0, Text: "carte identité"},
		{Source: "y", ChunkID: 0, Text: "permis de bâtir"},
		{Source: "dup", ChunkID: 1, Text: "carte identité"},
	})
	require.NoError(t, err)

	results, err := svc.Retrieve(ctx, "carte identité", 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(3), results[1].ID)
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		assert.GreaterOrEqual(t, prev.Score, cur.Score)
		if prev.Score == cur.Score {
			assert.Less(t, prev.ID, cur.ID)
		}
	}
}

func TestService_TopK(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir())
	_, err := svc.Build(ctx, []models.Chunk{{Source: "a", Text: "un"}, {Source: "b", Text: "deux"}})
	require.NoError(t, err)

	for _, k := range []int{0, -3} {
		_, err := svc.Retrieve(ctx, "un", k)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	}

	results, err := svc.Retrieve(ctx, "un", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir())

	_, err := svc.Retrieve(ctx, "bonjour", 4)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.Build(ctx, []models.Chunk{{Source: "a", Text: "bonjour"}})
	require.NoError(t, err)
	_, err = svc.Build(ctx, nil)
	require.NoError(t, err)

	_, err = svc.Retrieve(ctx, "bonjour", 4)
	assert.ErrorIs(t, err, models.ErrNotFound)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Passages)
}

func TestService_ProviderUnavailable(t *testing.T) {
	provider := embedding.NewProvider("broken", func(context.Context) (embedding.Embedder, error) {
		return nil, fmt.Errorf("no model")
	})
	svc := NewService(provider, NewStore(t.TempDir(), "memory"))

	_, err := svc.Build(context.Background(), []models.Chunk{{Source: "a", Text: "x"}})
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	_, err = svc.Retrieve(context.Background(), "x", 1)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestService_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	_, err := newTestService(t, dir).Build(ctx, []models.Chunk{
		{Source: "cin.txt", ChunkID: 0, Text: "renouvellement de la carte d'identité"},
		{Source: "impots.txt", ChunkID: 0, Text: "déclaration fiscale"},
	})
	require.NoError(t, err)

	other := newTestService(t, dir)
	results, err := other.Retrieve(ctx, "déclaration fiscale", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "impots.txt", results[0].Source)

	stats, err := other.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Passages)
	assert.Equal(t, 64, stats.Dimensions)
	assert.Equal(t, "hash", stats.Embedding)
}

func TestService_PicksUpNewGenerationFromAnotherWriter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reader := newTestService(t, dir)
	writer := newTestService(t, dir)

	_, err := writer.Build(ctx, []models.Chunk{{Source: "old", Text: "ancien texte"}})
	require.NoError(t, err)
	results, err := reader.Retrieve(ctx, "texte", 1)
	require.NoError(t, err)
	assert.Equal(t, "old", results[0].Source)

	_, err = writer.Build(ctx, []models.Chunk{{Source: "new", Text: "nouveau texte"}})
	require.NoError(t, err)
	results, err = reader.Retrieve(ctx, "texte", 1)
	require.NoError(t, err)
	assert.Equal(t, "new", results[0].Source)
}

func TestService_CorruptMetadata(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc := newTestService(t, dir)
	_, err := svc.Build(ctx, []models.Chunk{{Source: "a", Text: "un"}, {Source: "b", Text: "deux"}})
	require.NoError(t, err)

	gen, err := svc.store.Current()
	require.NoError(t, err)
	metaPath := filepath.Join(dir, gen, MetaFile)
	data, err := json.Marshal([]models.IndexedPassage{{ID: 0, Source: "a", Text: "un"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, data, 0600))

	fresh := newTestService(t, dir)
	_, err = fresh.Retrieve(ctx, "un", 2)
	assert.ErrorIs(t, err, models.ErrCorruptState)
}

type fakeIndex struct {
	vector.MemoryIndex
	hits []vector.Hit
}

func (f *fakeIndex) Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error) {
	return f.hits, nil
}

func installFake(t *testing.T, svc *Service, hits []vector.Hit, passages []models.IndexedPassage) {
	t.Helper()
	installIndex(t, svc, &fakeIndex{hits: hits}, passages)
}

func installIndex(t *testing.T, svc *Service, idx vector.VectorIndex, passages []models.IndexedPassage) {
	t.Helper()
	require.NoError(t, os.MkdirAll(svc.store.Dir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(svc.store.Dir(), CurrentFile), []byte("gen-fake\n"), 0600))
	svc.swap(&Corpus{
		Manifest: Manifest{Generation: "gen-fake"},
		Index:    idx,
		Passages: passages,
	})
}

type closeCountingIndex struct {
	vector.MemoryIndex
	closes atomic.Int32
}

func (c *closeCountingIndex) Close() error {
	c.closes.Add(1)
	return nil
}

func TestService_ClosesSupersededIndexAfterLastReader(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir())
	old := &closeCountingIndex{}
	installIndex(t, svc, old, []models.IndexedPassage{{ID: 0, Source: "old", Text: "ancien"}})

	pinned, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, old, pinned.Index)

	_, err = svc.Build(ctx, []models.Chunk{{Source: "new", Text: "nouveau"}})
	require.NoError(t, err)
	assert.Equal(t, int32(0), old.closes.Load(), "index closed while still pinned")

	pinned.Release()
	assert.Equal(t, int32(1), old.closes.Load())

	results, err := svc.Retrieve(ctx, "nouveau", 1)
	require.NoError(t, err)
	assert.Equal(t, "new", results[0].Source)
	assert.Equal(t, int32(1), old.closes.Load())
}

func TestService_CloseReleasesUnpinnedIndex(t *testing.T) {
	svc := newTestService(t, t.TempDir())
	idx := &closeCountingIndex{}
	installIndex(t, svc, idx, []models.IndexedPassage{{ID: 0, Source: "a", Text: "un"}})

	require.NoError(t, svc.Close())
	assert.Equal(t, int32(1), idx.closes.Load())
	require.NoError(t, svc.Close())
	assert.Equal(t, int32(1), idx.closes.Load())
}

func TestService_SkipsUnfilledSlots(t *testing.T) {
	svc := newTestService(t, t.TempDir())
	installFake(t, svc,
		[]vector.Hit{{ID: -1, Score: 0.9}, {ID: 0, Score: 0.5}},
		[]models.IndexedPassage{{ID: 0, Source: "a", Text: "un"}},
	)

	results, err := svc.Retrieve(context.Background(), "un", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Source)
}

func TestService_MissingMetadataIsCorruptState(t *testing.T) {
	svc := newTestService(t, t.TempDir())
	installFake(t, svc,
		[]vector.Hit{{ID: 0, Score: 0.9}, {ID: 7, Score: 0.5}},
		[]models.IndexedPassage{{ID: 0, Source: "a", Text: "un"}},
	)

	_, err := svc.Retrieve(context.Background(), "un", 2)
	assert.ErrorIs(t, err, models.ErrCorruptState)
}

func TestService_ConcurrentBuildsAndReads(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir())

	corpus := func(prefix string, n int) []models.Chunk {
		chunks := make([]models.Chunk, n)
		for i := range chunks {
			chunks[i] = models.Chunk{Source: fmt.Sprintf("%s-%d", prefix, i), ChunkID: 0, Text: fmt.Sprintf("procédure %s numéro %d", prefix, i)}
		}
		return chunks
	}
	_, err := svc.Build(ctx, corpus("a", 3))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if i%2 == 0 {
				_, _ = svc.Build(ctx, corpus("b", 7))
			} else {
				_, _ = svc.Build(ctx, corpus("a", 3))
			}
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				results, err := svc.Retrieve(ctx, "procédure numéro", 10)
				if !assert.NoError(t, err) {
					return
				}
				prefix := strings.SplitN(results[0].Source, "-", 2)[0]
				want := map[string]int{"a": 3, "b": 7}[prefix]
				assert.Len(t, results, want)
				for _, res := range results {
					assert.True(t, strings.HasPrefix(res.Source, prefix+"-"), "mixed generations in one result: %v", res.Source)
				}
			}
		}()
	}
	wg.Wait()
}

func TestStore_PrunesOldGenerations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc := newTestService(t, dir)
	for i := 0; i < 4; i++ {
		_, err := svc.Build(ctx, []models.Chunk{{Source: "a", Text: fmt.Sprintf("version %d", i)}})
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	gens := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) {
			gens++
		}
	}
	assert.Equal(t, 2, gens)
}

func TestStore_PublishRejectsMisnumberedPassages(t *testing.T) {
	store := NewStore(t.TempDir(), "memory")
	_, err := store.Publish(context.Background(),
		[]models.IndexedPassage{{ID: 1, Source: "a", Text: "x"}},
		[][]float32{{1, 0}}, "hash")
	assert.Error(t, err)
}
