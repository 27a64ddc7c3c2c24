package api

import "net/http"

// health is the liveness probe. No auth, no side effects.
// The frontend polls this to render the "online" badge.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
}
