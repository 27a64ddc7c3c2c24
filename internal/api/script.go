package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/blentor/blentor/internal/script"
)

// ScriptComposer generates a bpy script for a request.
// *script.Composer satisfies it.
type ScriptComposer interface {
	Compose(ctx context.Context, request string) script.Result
}

type scriptHandler struct {
	composer ScriptComposer
	activity ActivityRecorder // optional
	logger   *slog.Logger
}

// send handles POST /generar-script. The composer guarantees script is
// always a non-empty string, so this is a 200 for any valid input.
func (h *scriptHandler) send(w http.ResponseWriter, r *http.Request) {
	request, ok := readQuestion(w, r)
	if !ok {
		return
	}

	if h.activity != nil {
		h.activity.Touch()
	}

	result := h.composer.Compose(r.Context(), request)
	writeJSON(w, http.StatusOK, result)
}
