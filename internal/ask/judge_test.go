package ask

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/testutil"
)

func contextWith(items ...knowledge.ScoredItem) Context {
	return Context{Items: items}
}

func TestJudgeSufficient(t *testing.T) {
	mock := testutil.NewMockLLM(`{"suficiente": true, "razon": "cubre la pregunta"}`)
	judge := NewJudge(mock, testutil.DiscardLogger())

	ok, reason := judge.Sufficient(context.Background(), "¿qué es un modificador?", contextWith(scored("modeling", 0.8)))

	assert.True(t, ok)
	assert.Equal(t, "cubre la pregunta", reason)
}

func TestJudgeInsufficient(t *testing.T) {
	mock := testutil.NewMockLLM(`{"suficiente": false, "razon": "contexto tangencial"}`)
	judge := NewJudge(mock, testutil.DiscardLogger())

	ok, reason := judge.Sufficient(context.Background(), "pregunta", contextWith(scored("modeling", 0.8)))

	assert.False(t, ok)
	assert.Equal(t, "contexto tangencial", reason)
}

func TestJudgeEmptyContextIsInsufficientWithoutCall(t *testing.T) {
	mock := testutil.NewMockLLM(`{"suficiente": true, "razon": "nunca debería llamarse"}`)
	judge := NewJudge(mock, testutil.DiscardLogger())

	ok, _ := judge.Sufficient(context.Background(), "pregunta", Context{})

	assert.False(t, ok)
	assert.Empty(t, mock.Calls())
}

func TestJudgeDefaultsToInsufficientOnFailure(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.FailWith(assert.AnError)
	judge := NewJudge(mock, testutil.DiscardLogger())

	ok, _ := judge.Sufficient(context.Background(), "pregunta", contextWith(scored("modeling", 0.8)))

	assert.False(t, ok)
}

func TestJudgeDefaultsToInsufficientOnUnparsableVerdict(t *testing.T) {
	mock := testutil.NewMockLLM("sí, claro, es suficiente")
	judge := NewJudge(mock, testutil.DiscardLogger())

	ok, _ := judge.Sufficient(context.Background(), "pregunta", contextWith(scored("modeling", 0.8)))

	assert.False(t, ok)
}

func TestSerializeContextIncludesRelations(t *testing.T) {
	item := scored("modeling", 0.8)
	other := scored("rendering", 0.7)
	kctx := Context{
		Items: []knowledge.ScoredItem{item, other},
		Relations: []knowledge.Relation{
			{ItemID: item.Item.ID, Label: "ver también", TargetTitle: "Modificadores"},
		},
	}

	serialized := serializeContext(kctx)

	assert.Contains(t, serialized, "Relacionado (ver también): Modificadores")
	// The relation must be attached to its item, not to every item.
	assert.Equal(t, 1, strings.Count(serialized, "Relacionado"))
}
