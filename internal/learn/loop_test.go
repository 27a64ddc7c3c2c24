package learn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/testutil"
)

// fakeStore is an in-memory learn.Store.
type fakeStore struct {
	mu       sync.Mutex
	counts   map[string]int
	tasks    []knowledge.ResearchTask
	inserted []knowledge.InsertParams
	created  []string
	rejected []uuid.UUID
	deleted  []uuid.UUID
}

func newFakeStore(counts map[string]int) *fakeStore {
	return &fakeStore{counts: counts}
}

func (f *fakeStore) CountByCategory(context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) CreateTask(_ context.Context, topic, targetCategory string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.created = append(f.created, topic)
	f.tasks = append(f.tasks, knowledge.ResearchTask{
		ID:             id,
		Topic:          topic,
		TargetCategory: targetCategory,
		Status:         knowledge.TaskStatusDraft,
	})
	return id, nil
}

func (f *fakeStore) NextTask(_ context.Context, maxAttempts int) (knowledge.ResearchTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.Status == knowledge.TaskStatusAbandoned {
			continue
		}
		if task.AttemptCount >= maxAttempts {
			continue
		}
		return task, nil
	}
	return knowledge.ResearchTask{}, knowledge.ErrNoPendingTask
}

func (f *fakeStore) RejectTask(_ context.Context, id uuid.UUID, maxAttempts int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, id)
	for i := range f.tasks {
		if f.tasks[i].ID != id {
			continue
		}
		f.tasks[i].AttemptCount++
		f.tasks[i].Status = knowledge.TaskStatusRejected
		if f.tasks[i].AttemptCount >= maxAttempts {
			f.tasks[i].Status = knowledge.TaskStatusAbandoned
		}
		return f.tasks[i].Status, nil
	}
	return "", knowledge.ErrNoPendingTask
}

func (f *fakeStore) DeleteTask(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) Insert(_ context.Context, p knowledge.InsertParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, p)
	f.counts[p.Category]++
	return uuid.New(), nil
}

// fixtureCatalog builds a loaded catalog from category keys.
type fixtureCategories []knowledge.Category

func (f fixtureCategories) ListCategories(context.Context) ([]knowledge.Category, error) {
	return f, nil
}

func testCatalog(t *testing.T, keys ...string) *knowledge.Catalog {
	t.Helper()
	cats := make(fixtureCategories, 0, len(keys))
	for _, k := range keys {
		cats = append(cats, knowledge.Category{
			Key:                k,
			Title:              k,
			Description:        "categoría " + k,
			AdmissionCriterion: "contenido de " + k,
		})
	}
	catalog := knowledge.NewCatalog(cats, testutil.DiscardLogger())
	require.NoError(t, catalog.Reload(context.Background()))
	return catalog
}

func newTestLoop(store *fakeStore, mock *testutil.MockLLM, catalog *knowledge.Catalog, activity *Activity) *Loop {
	return New(Config{
		Store:    store,
		Gen:      mock,
		Embedder: testutil.NewMockEmbedder(8),
		Catalog:  catalog,
		Activity: activity,
		Logger:   testutil.DiscardLogger(),
	})
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierNovice, TierFor(0))
	assert.Equal(t, TierNovice, TierFor(4))
	assert.Equal(t, TierApprentice, TierFor(5))
	assert.Equal(t, TierApprentice, TierFor(19))
	assert.Equal(t, TierProfessional, TierFor(20))
	assert.Equal(t, TierProfessional, TierFor(49))
	assert.Equal(t, TierExpert, TierFor(50))
}

func TestWeakestCategoryDeterministicTiebreak(t *testing.T) {
	key, count := weakestCategory(map[string]int{"rendering": 3, "animation": 3, "modeling": 7})

	assert.Equal(t, "animation", key)
	assert.Equal(t, 3, count)
}

func TestRunOnceYieldsToRecentUserActivity(t *testing.T) {
	store := newFakeStore(map[string]int{"modeling": 0})
	mock := testutil.NewMockLLM(`{"tema": "no debería llamarse"}`)
	activity := NewActivity()
	activity.Touch()

	loop := newTestLoop(store, mock, testCatalog(t, "modeling"), activity)
	loop.RunOnce(context.Background())

	assert.Empty(t, mock.Calls())
	assert.Empty(t, store.created)
}

func TestRunOnceProposesTopicWhenQueueEmpty(t *testing.T) {
	store := newFakeStore(map[string]int{"modeling": 2, "rendering": 30})
	mock := testutil.NewMockLLM(`{"tema": "Modificador Subdivision Surface"}`)

	loop := newTestLoop(store, mock, testCatalog(t, "modeling", "rendering"), NewActivity())
	loop.RunOnce(context.Background())

	require.Len(t, store.created, 1)
	assert.Equal(t, "Modificador Subdivision Surface", store.created[0])
	require.Len(t, store.tasks, 1)
	assert.Equal(t, "modeling", store.tasks[0].TargetCategory)

	// The proposal prompt targets the weakest category at its tier.
	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, `"modeling"`)
	assert.Contains(t, calls[0].Prompt, TierNovice)
}

func TestRunOnceResearchAccepted(t *testing.T) {
	store := newFakeStore(map[string]int{"modeling": 2})
	taskID, err := store.CreateTask(context.Background(), "Extrusión de caras", "modeling")
	require.NoError(t, err)

	mock := testutil.NewMockLLM("")
	mock.AddResponse("redactando una ficha", `{"concepto": "Extrude", "explicacion": "Duplica y desplaza geometría.", "codigo": "bpy.ops.mesh.extrude_region_move()"}`)
	mock.AddResponse("revisor técnico", `{"aceptable": true, "razon": "correcta"}`)

	loop := newTestLoop(store, mock, testCatalog(t, "modeling"), NewActivity())
	loop.RunOnce(context.Background())

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "modeling", store.inserted[0].Category)
	assert.Equal(t, "Extrude", store.inserted[0].Concept)
	assert.NotEmpty(t, store.inserted[0].Embedding)
	assert.Equal(t, []uuid.UUID{taskID}, store.deleted)
	assert.Empty(t, store.rejected)
}

func TestRunOnceResearchRejectedByEvaluator(t *testing.T) {
	store := newFakeStore(map[string]int{"modeling": 2})
	taskID, err := store.CreateTask(context.Background(), "Tema dudoso", "modeling")
	require.NoError(t, err)

	mock := testutil.NewMockLLM("")
	mock.AddResponse("redactando una ficha", `{"concepto": "Algo", "explicacion": "Vago.", "codigo": ""}`)
	mock.AddResponse("revisor técnico", `{"aceptable": false, "razon": "demasiado genérico"}`)

	loop := newTestLoop(store, mock, testCatalog(t, "modeling"), NewActivity())
	loop.RunOnce(context.Background())

	assert.Empty(t, store.inserted)
	assert.Equal(t, []uuid.UUID{taskID}, store.rejected)
}

func TestRunOnceUnreadableEvaluationRejects(t *testing.T) {
	// Fail toward doing more research, never toward storing unvetted
	// content.
	store := newFakeStore(map[string]int{"modeling": 2})
	_, err := store.CreateTask(context.Background(), "Tema", "modeling")
	require.NoError(t, err)

	mock := testutil.NewMockLLM("")
	mock.AddResponse("redactando una ficha", `{"concepto": "Algo", "explicacion": "Texto.", "codigo": ""}`)
	mock.AddResponse("revisor técnico", "me parece bien")

	loop := newTestLoop(store, mock, testCatalog(t, "modeling"), NewActivity())
	loop.RunOnce(context.Background())

	assert.Empty(t, store.inserted)
	assert.Len(t, store.rejected, 1)
}

func TestTaskAbandonedAfterMaxAttempts(t *testing.T) {
	store := newFakeStore(map[string]int{"modeling": 2})
	taskID, err := store.CreateTask(context.Background(), "Tema imposible", "modeling")
	require.NoError(t, err)

	mock := testutil.NewMockLLM("")
	mock.AddResponse("redactando una ficha", `{"concepto": "Algo", "explicacion": "Malo.", "codigo": ""}`)
	mock.AddResponse("revisor técnico", `{"aceptable": false, "razon": "incorrecto"}`)

	loop := newTestLoop(store, mock, testCatalog(t, "modeling"), NewActivity())

	for range DefaultMaxTaskAttempts {
		loop.RunOnce(context.Background())
	}

	assert.Len(t, store.rejected, DefaultMaxTaskAttempts)
	assert.Equal(t, knowledge.TaskStatusAbandoned, store.tasks[0].Status)

	// The abandoned task is never picked up again: the next cycle proposes
	// a fresh topic instead of researching.
	mock.Reset()
	mock.AddResponse("tutor", `{"tema": "Tema nuevo"}`)
	loop.RunOnce(context.Background())

	assert.Contains(t, store.created, "Tema nuevo")
	assert.Equal(t, taskID, store.tasks[0].ID)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	store := newFakeStore(map[string]int{"modeling": 0})
	mock := testutil.NewMockLLM(`{"tema": "x"}`)
	loop := newTestLoop(store, mock, testCatalog(t, "modeling"), NewActivity())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on context cancellation")
	}
}
