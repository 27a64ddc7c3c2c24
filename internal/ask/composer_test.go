package ask

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/testutil"
)

// stubPaths maps item ids to source paths; unknown ids get placeholders,
// matching the store's never-fail contract.
type stubPaths struct {
	paths map[uuid.UUID]knowledge.SourcePath
}

func (s *stubPaths) SourcePath(_ context.Context, itemID uuid.UUID) knowledge.SourcePath {
	if p, ok := s.paths[itemID]; ok {
		return p
	}
	return knowledge.SourcePath{
		ChapterTitle: knowledge.UncategorizedChapter,
		PartTitle:    knowledge.UnknownPart,
	}
}

type recordingSink struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingSink) Report(itemID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, itemID)
}

func TestComposeEmptyContext(t *testing.T) {
	mock := testutil.NewMockLLM("no debería llamarse")
	c := NewComposer(mock, &stubPaths{}, nil, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "pregunta", Context{}, false)

	assert.Equal(t, NotFoundText, answer.MainText)
	assert.NotNil(t, answer.KeyPoints)
	assert.Empty(t, answer.KeyPoints)
	assert.Empty(t, mock.Calls())
}

func TestComposeSufficient(t *testing.T) {
	item := scored("modeling", 0.9)
	paths := &stubPaths{paths: map[uuid.UUID]knowledge.SourcePath{
		item.Item.ID: {ChapterTitle: "Malla y Edición", PartTitle: "Modelado"},
	}}
	sink := &recordingSink{}
	mock := testutil.NewMockLLM(`{"respuesta_principal": "Usa la herramienta Extrude.", "puntos_clave": [{"titulo": "Atajo", "descripcion": "Tecla E"}], "fuente": "inventada por el modelo"}`)
	c := NewComposer(mock, paths, sink, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "¿cómo extruyo?", contextWith(item), true)

	assert.Equal(t, "Usa la herramienta Extrude.", answer.MainText)
	require.Len(t, answer.KeyPoints, 1)
	assert.Equal(t, "Atajo", answer.KeyPoints[0].Title)
	// The source always comes from the retrieved hierarchy, never from the
	// model's own output.
	assert.Equal(t, "Malla y Edición (Parte: Modelado)", answer.Source)
	assert.Equal(t, []uuid.UUID{item.Item.ID}, sink.ids)
}

func TestComposeInsufficientUsesGeneralKnowledgeSource(t *testing.T) {
	item := scored("modeling", 0.7)
	mock := testutil.NewMockLLM(`{"respuesta_principal": "Según mi conocimiento general...", "puntos_clave": [], "fuente": "lo que sea"}`)
	c := NewComposer(mock, &stubPaths{}, nil, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "pregunta", contextWith(item), false)

	assert.Equal(t, GeneralKnowledgeSource, answer.Source)
}

func TestComposeGenerationFailure(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.FailWith(assert.AnError)
	sink := &recordingSink{}
	c := NewComposer(mock, &stubPaths{}, sink, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "pregunta", contextWith(scored("modeling", 0.8)), true)

	assert.Equal(t, ConnectivityErrorText, answer.MainText)
	assert.NotNil(t, answer.KeyPoints)
	// Failed answers report no usage.
	assert.Empty(t, sink.ids)
}

func TestComposeUnparsableOutputSynthesized(t *testing.T) {
	mock := testutil.NewMockLLM("La extrusión duplica la geometría seleccionada y la desplaza.")
	c := NewComposer(mock, &stubPaths{}, nil, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "pregunta", contextWith(scored("modeling", 0.8)), true)

	assert.Equal(t, "La extrusión duplica la geometría seleccionada y la desplaza.", answer.MainText)
	assert.NotNil(t, answer.KeyPoints)
	assert.Empty(t, answer.KeyPoints)
}

func TestComposeLoopWrittenItemsCiteCategory(t *testing.T) {
	// Items written by the learning loop have no manual hierarchy; their
	// citation is the category name.
	item := scored("modeling", 0.9)
	mock := testutil.NewMockLLM(`{"respuesta_principal": "respuesta", "puntos_clave": [], "fuente": ""}`)
	c := NewComposer(mock, &stubPaths{}, nil, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "pregunta", contextWith(item), true)

	assert.Equal(t, "modeling", answer.Source)
}

func TestComposeDeduplicatesSourceLabels(t *testing.T) {
	a := scored("modeling", 0.9)
	b := scored("modeling", 0.8)
	paths := &stubPaths{paths: map[uuid.UUID]knowledge.SourcePath{
		a.Item.ID: {ChapterTitle: "Capítulo Uno", PartTitle: "Parte A"},
		b.Item.ID: {ChapterTitle: "Capítulo Uno", PartTitle: "Parte A"},
	}}
	mock := testutil.NewMockLLM(`{"respuesta_principal": "respuesta", "puntos_clave": [], "fuente": ""}`)
	c := NewComposer(mock, paths, nil, testutil.DiscardLogger())

	answer := c.Compose(context.Background(), "pregunta", contextWith(a, b), true)

	assert.Equal(t, "Capítulo Uno (Parte: Parte A)", answer.Source)
}
