package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoPendingTask indicates the research queue has no workable task.
var ErrNoPendingTask = errors.New("no pending research task")

// CreateTask enqueues a new draft research task.
func (s *Store) CreateTask(ctx context.Context, topic, targetCategory string) (uuid.UUID, error) {
	id := uuid.New()

	const q = `
		INSERT INTO research_tasks (id, topic, target_category, status)
		VALUES ($1, $2, $3, 'draft')`

	if _, err := s.db.Exec(ctx, q, id, topic, targetCategory); err != nil {
		return uuid.Nil, fmt.Errorf("creating research task: %w", err)
	}

	s.logger.Debug("research task created", "id", id, "topic", topic, "category", targetCategory)
	return id, nil
}

// NextTask returns the oldest workable task: draft, or rejected with
// attempts still under the cap. Abandoned tasks are never picked again.
func (s *Store) NextTask(ctx context.Context, maxAttempts int) (ResearchTask, error) {
	const q = `
		SELECT id, topic, target_category, status, attempt_count, created_at, updated_at
		FROM research_tasks
		WHERE status = 'draft' OR (status = 'rejected' AND attempt_count < $1)
		ORDER BY created_at
		LIMIT 1`

	var t ResearchTask
	err := s.db.QueryRow(ctx, q, maxAttempts).Scan(
		&t.ID, &t.Topic, &t.TargetCategory, &t.Status, &t.AttemptCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResearchTask{}, ErrNoPendingTask
		}
		return ResearchTask{}, fmt.Errorf("fetching next task: %w", err)
	}
	return t, nil
}

// RejectTask increments the attempt counter and marks the task rejected,
// or abandoned once the counter reaches maxAttempts. Returns the new status.
func (s *Store) RejectTask(ctx context.Context, id uuid.UUID, maxAttempts int) (string, error) {
	const q = `
		UPDATE research_tasks
		SET attempt_count = attempt_count + 1,
		    status = CASE WHEN attempt_count + 1 >= $2 THEN 'abandoned' ELSE 'rejected' END,
		    updated_at = now()
		WHERE id = $1
		RETURNING status`

	var status string
	if err := s.db.QueryRow(ctx, q, id, maxAttempts).Scan(&status); err != nil {
		return "", fmt.Errorf("rejecting task %s: %w", id, err)
	}

	if status == TaskStatusAbandoned {
		s.logger.Info("research task abandoned after max attempts", "id", id, "max_attempts", maxAttempts)
	}
	return status, nil
}

// DeleteTask removes a task after its research was accepted.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM research_tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// LogQuery records a raw user question for the curator's gap analysis.
func (s *Store) LogQuery(ctx context.Context, promptText string) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO query_log (prompt_text) VALUES ($1)`, promptText); err != nil {
		return fmt.Errorf("logging query: %w", err)
	}
	return nil
}

// RecentQueries returns the newest logged user questions.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]string, error) {
	const q = `SELECT prompt_text FROM query_log ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching recent queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning query: %w", err)
		}
		queries = append(queries, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queries: %w", err)
	}
	return queries, nil
}

// SaveCurationReport persists one curation pass output as JSONB.
func (s *Store) SaveCurationReport(ctx context.Context, report []byte) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO curation_reports (report) VALUES ($1)`, report); err != nil {
		return fmt.Errorf("saving curation report: %w", err)
	}
	return nil
}
