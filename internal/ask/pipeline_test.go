package ask

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/testutil"
)

type staticCategories []string

func (s staticCategories) Keys() []string { return s }

func newTestPipeline(mock *testutil.MockLLM, searcher *stubSearcher) *Pipeline {
	logger := testutil.DiscardLogger()
	return NewPipeline(
		NewPlanner(mock, logger),
		NewRetriever(testutil.NewMockEmbedder(8), searcher, 0.6, 5, logger),
		NewJudge(mock, logger),
		NewComposer(mock, &stubPaths{}, nil, logger),
		staticCategories(knownCategories),
		logger,
	)
}

func TestPipelineAnswersFromKnowledge(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("planificador de búsqueda", `{"categoria": "modeling", "subconsultas": ["extrusión"]}`)
	mock.AddResponse("evaluador estricto", `{"suficiente": true, "razon": "ok"}`)
	mock.AddResponse("manual de blender", `{"respuesta_principal": "Pulsa E para extruir.", "puntos_clave": [], "fuente": ""}`)

	searcher := &stubSearcher{results: map[string][]knowledge.ScoredItem{
		"": {scored("modeling", 0.9)},
	}}

	answer := newTestPipeline(mock, searcher).Answer(context.Background(), "¿cómo extruyo una cara?")

	assert.Equal(t, "Pulsa E para extruir.", answer.MainText)
	assert.Equal(t, "modeling", answer.Source)
}

func TestPipelineNotFoundOnEmptyRetrieval(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("planificador de búsqueda", `{"categoria": null, "subconsultas": ["algo"]}`)

	answer := newTestPipeline(mock, &stubSearcher{}).Answer(context.Background(), "¿qué es un flurbo?")

	assert.Equal(t, NotFoundText, answer.MainText)
	assert.Empty(t, answer.Source)
	// Neither the judge nor the composer may run on an empty context.
	assert.Len(t, mock.Calls(), 1)
}

func TestPipelineInsufficientContextFallsBackToGeneral(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("planificador de búsqueda", `{"categoria": "modeling", "subconsultas": ["extrusión"]}`)
	mock.AddResponse("evaluador estricto", `{"suficiente": false, "razon": "tangencial"}`)
	mock.AddResponse("conocimiento general", `{"respuesta_principal": "En general...", "puntos_clave": [], "fuente": ""}`)

	searcher := &stubSearcher{results: map[string][]knowledge.ScoredItem{
		"": {scored("modeling", 0.65)},
	}}

	answer := newTestPipeline(mock, searcher).Answer(context.Background(), "pregunta difícil")

	assert.Equal(t, "En general...", answer.MainText)
	assert.Equal(t, GeneralKnowledgeSource, answer.Source)
}

func TestPipelineTotalModelOutageStillAnswers(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.FailWith(assert.AnError)

	searcher := &stubSearcher{results: map[string][]knowledge.ScoredItem{
		"": {scored("modeling", 0.8)},
	}}

	answer := newTestPipeline(mock, searcher).Answer(context.Background(), "pregunta")

	// Planner falls back, judge assumes insufficient, composer degrades:
	// the caller still gets a well-formed answer.
	assert.Equal(t, ConnectivityErrorText, answer.MainText)
	assert.NotNil(t, answer.KeyPoints)
}
