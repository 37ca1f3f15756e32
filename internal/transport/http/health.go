package http

import "net/http"

// HandleHealth reports process liveness only. Dependency health (database,
// cache, broker) is not probed here.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
