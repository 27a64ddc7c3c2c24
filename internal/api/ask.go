package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/blentor/blentor/internal/ask"
)

// maxBodyBytes caps request bodies (64 KB). Questions are short; anything
// bigger is abuse.
const maxBodyBytes = 64 * 1024

// Answerer runs the full question pipeline. *ask.Pipeline satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string) ask.Answer
}

// QueryLogger records user questions for later gap analysis.
// *knowledge.Store satisfies it.
type QueryLogger interface {
	LogQuery(ctx context.Context, promptText string) error
}

// ActivityRecorder marks live user interaction so background work yields.
// *learn.Activity satisfies it.
type ActivityRecorder interface {
	Touch()
}

// questionRequest is the body of /preguntar and /generar-script.
// session_id is accepted but unused beyond logging.
type questionRequest struct {
	Pregunta  string `json:"pregunta"`
	SessionID string `json:"session_id,omitempty"`
}

type askHandler struct {
	pipeline Answerer
	queries  QueryLogger      // optional
	activity ActivityRecorder // optional
	logger   *slog.Logger
}

// send handles POST /preguntar. Upstream failures are already degraded to
// well-formed answers inside the pipeline, so the only non-200 here is the
// input validation 400.
func (h *askHandler) send(w http.ResponseWriter, r *http.Request) {
	question, ok := readQuestion(w, r)
	if !ok {
		return
	}

	if h.activity != nil {
		h.activity.Touch()
	}
	if h.queries != nil {
		if err := h.queries.LogQuery(r.Context(), question); err != nil {
			// Best effort: the answer does not depend on the audit trail.
			h.logger.Warn("query logging failed", "error", err)
		}
	}

	answer := h.pipeline.Answer(r.Context(), question)
	writeJSON(w, http.StatusOK, answer)
}

// readQuestion decodes the shared request body and enforces the pregunta
// contract. Writes the 400 itself and returns ok=false when invalid.
func readQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req questionRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		writeError(w, http.StatusBadRequest, "missing 'pregunta'")
		return "", false
	}

	question := strings.TrimSpace(req.Pregunta)
	if question == "" {
		writeError(w, http.StatusBadRequest, "missing 'pregunta'")
		return "", false
	}
	return question, true
}
