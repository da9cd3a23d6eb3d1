package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/dalil/internal/eventlog"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/safety"
)

type fakeRetriever struct {
	mu      sync.Mutex
	results []models.RetrievedResult
	err     error
	calls   int
	lastK   int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]models.RetrievedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastK = topK
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

type fakeGenerator struct {
	text   string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

func (f *fakeGenerator) Model() string { return "test-model" }

type fixedDetector struct {
	lang string
	err  error
}

func (d fixedDetector) Detect(string) (string, error) { return d.lang, d.err }

type countingObserver struct {
	actions     []string
	errorKinds  []string
	generations int
}

func (c *countingObserver) ObserveQuery(action string) { c.actions = append(c.actions, action) }
func (c *countingObserver) ObserveQueryError(kind string) { c.errorKinds = append(c.errorKinds, kind) }
func (c *countingObserver) ObserveGeneration(time.Duration, error) { c.generations++ }

var passages = []models.RetrievedResult{
	{ID: 0, Source: "raw/cin.txt", ChunkID: 0, Text: "Renouvellement de la carte d'identité nationale.", Score: 0.91},
	{ID: 3, Source: "raw/cin.txt", ChunkID: 2, Text: "Pièces à fournir: ancienne carte, photos.", Score: 0.72},
	{ID: 7, Source: "raw/tax.txt", ChunkID: 0, Text: "Déclaration fiscale simplifiée.", Score: 0.40},
}

func newOrchestrator(r Retriever, rec *eventlog.Recorder, opts ...Option) *Orchestrator {
	o := New(safety.NewClassifier(), r, append([]Option{
		WithSink(rec),
		WithDetector(fixedDetector{lang: "fr"}),
	}, opts...)...)
	o.newID = func() string { return "id-1" }
	return o
}

func TestHandle_Extractive(t *testing.T) {
	rec := &eventlog.Recorder{}
	r := &fakeRetriever{results: passages}
	o := newOrchestrator(r, rec)

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "Comment renouveler ma carte d'identité ?"})
	require.NoError(t, err)

	assert.Equal(t, models.ActionRetrieveDocument, resp.Action)
	assert.Equal(t, "fr", resp.Language)
	assert.Equal(t, models.DefaultTopK, r.lastK)
	assert.Equal(t, []string{"raw/cin.txt", "raw/cin.txt", "raw/tax.txt"}, resp.Sources())
	assert.True(t, strings.HasPrefix(resp.Answer, "Réponse (basée sur les documents locaux):\n\n"+passages[0].Text))
	assert.Contains(t, resp.Answer, "- raw/cin.txt (chunk 2)")
	assert.Equal(t, "id-1", resp.EvalHooks["interaction_id"])
	assert.Equal(t, map[string]any{"type": "extractive", "grounded": true}, resp.EvalHooks["after_Generate_Response"])

	assert.Equal(t, []string{
		eventlog.LogInteraction,
		eventlog.SafetyCheck,
		eventlog.ToolSelect,
		eventlog.ToolResult,
		eventlog.GenerateResponse,
	}, rec.Events())
	records := rec.Records()
	assert.Equal(t, "id-1", records[0].Payload["interaction_id"])
	assert.Equal(t, 3, records[3].Payload["retrieved_count"])
	assert.Equal(t, ModeExtractive, records[4].Payload["mode"])
}

func TestHandle_ExtractiveNoResults(t *testing.T) {
	o := newOrchestrator(&fakeRetriever{}, &eventlog.Recorder{})

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "permis de bâtir"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionRetrieveDocument, resp.Action)
	assert.Equal(t, noDocumentAnswer, resp.Answer)
	assert.Empty(t, resp.Sources())
}

func TestHandle_RefuseSkipsRetrieval(t *testing.T) {
	rec := &eventlog.Recorder{}
	r := &fakeRetriever{results: passages}
	o := newOrchestrator(r, rec)

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "Mon CIN est 01234567, peux-tu vérifier mon statut ?", AllowGeneration: true})
	require.NoError(t, err)

	assert.Equal(t, models.ActionRefuse, resp.Action)
	assert.Contains(t, resp.Answer, "Raison: Detected sensitive citizen-identifiable data (cin_like).")
	assert.Empty(t, resp.Retrieved)
	assert.Zero(t, r.calls)
	assert.Equal(t, map[string]any{"selected": ToolNone, "reason": "safety_refusal"}, resp.EvalHooks["after_Tool_Select"])
	assert.Equal(t, []string{
		eventlog.LogInteraction,
		eventlog.SafetyCheck,
		eventlog.ToolSelect,
		eventlog.GenerateResponse,
	}, rec.Events())
}

func TestHandle_Escalate(t *testing.T) {
	rec := &eventlog.Recorder{}
	r := &fakeRetriever{results: passages}
	o := newOrchestrator(r, rec)

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "Je veux déposer une plainte au tribunal"})
	require.NoError(t, err)

	assert.Equal(t, models.ActionEscalate, resp.Action)
	assert.Equal(t, EscalationAnswer(), resp.Answer)
	assert.Zero(t, r.calls)
	assert.Equal(t, map[string]any{"type": ModeEscalation}, resp.EvalHooks["after_Generate_Response"])
	assert.Equal(t, ModeEscalation, rec.Records()[3].Payload["mode"])
}

func TestHandle_Generative(t *testing.T) {
	rec := &eventlog.Recorder{}
	gen := &fakeGenerator{text: "  Présentez-vous au poste de police avec deux photos.  "}
	obs := &countingObserver{}
	o := newOrchestrator(&fakeRetriever{results: passages}, rec, WithGenerator(gen), WithObserver(obs))

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "carte d'identité", TopK: 2, AllowGeneration: true})
	require.NoError(t, err)

	assert.Equal(t, models.ActionSummarizeProcedure, resp.Action)
	assert.Equal(t, "Présentez-vous au poste de police avec deux photos.", resp.Answer)
	assert.Contains(t, gen.prompt, "User: carte d'identité")
	assert.Contains(t, gen.prompt, "[source=raw/cin.txt chunk=0 score=0.910]")
	assert.NotContains(t, gen.prompt, "raw/tax.txt")
	assert.Equal(t, map[string]any{"selected": ToolRetrieveGenerate, "model": "test-model", "top_k": 2}, resp.EvalHooks["after_Tool_Select"])
	assert.Equal(t, map[string]any{"type": "llm", "grounded": true, "fallback": false}, resp.EvalHooks["after_Generate_Response"])
	assert.Equal(t, []string{models.ActionSummarizeProcedure}, obs.actions)
	assert.Equal(t, 1, obs.generations)
}

func TestHandle_GenerativeBlankFallsBack(t *testing.T) {
	gen := &fakeGenerator{text: " \n\t"}
	o := newOrchestrator(&fakeRetriever{results: passages}, &eventlog.Recorder{}, WithGenerator(gen))

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "carte d'identité", AllowGeneration: true})
	require.NoError(t, err)

	assert.Equal(t, models.ActionSummarizeProcedure, resp.Action)
	assert.Equal(t, ExtractiveAnswer(passages), resp.Answer)
	assert.Equal(t, true, resp.EvalHooks["after_Generate_Response"].(map[string]any)["fallback"])
}

func TestHandle_GenerationFailurePropagates(t *testing.T) {
	rec := &eventlog.Recorder{}
	obs := &countingObserver{}
	gen := &fakeGenerator{err: fmt.Errorf("%w: connection refused", models.ErrGenerationUnavailable)}
	o := newOrchestrator(&fakeRetriever{results: passages}, rec, WithGenerator(gen), WithObserver(obs))

	_, err := o.Handle(context.Background(), models.QueryRequest{Text: "carte d'identité", AllowGeneration: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Equal(t, []string{"generation_unavailable"}, obs.errorKinds)

	records := rec.Records()
	last := records[len(records)-1]
	assert.Equal(t, eventlog.GenerateResponse, last.Event)
	assert.Equal(t, "generation_unavailable", last.Payload["error"])
}

func TestHandle_DefaultGeneratorIsUnavailable(t *testing.T) {
	o := newOrchestrator(&fakeRetriever{results: passages}, &eventlog.Recorder{})

	_, err := o.Handle(context.Background(), models.QueryRequest{Text: "carte", AllowGeneration: true})
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
}

func TestHandle_RetrievalErrorPropagates(t *testing.T) {
	rec := &eventlog.Recorder{}
	o := newOrchestrator(&fakeRetriever{err: fmt.Errorf("%w: no corpus", models.ErrNotFound)}, rec)

	_, err := o.Handle(context.Background(), models.QueryRequest{Text: "carte"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	records := rec.Records()
	require.Len(t, records, 4)
	assert.Equal(t, eventlog.ToolResult, records[3].Event)
	assert.Equal(t, "not_found", records[3].Payload["error"])
}

func TestHandle_InvalidRequest(t *testing.T) {
	rec := &eventlog.Recorder{}
	o := newOrchestrator(&fakeRetriever{}, rec)

	for _, req := range []models.QueryRequest{{Text: "   "}, {Text: "carte", TopK: -1}} {
		_, err := o.Handle(context.Background(), req)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	}
	assert.Empty(t, rec.Events())
}

func TestHandle_UndeterminedLanguage(t *testing.T) {
	o := newOrchestrator(&fakeRetriever{results: passages}, &eventlog.Recorder{},
		WithDetector(fixedDetector{err: errors.New("too short")}))

	resp, err := o.Handle(context.Background(), models.QueryRequest{Text: "?"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", resp.Language)
}
