package handlers

import "net/http"

// HandleHealth reports liveness. It always answers 200 regardless of
// upstream availability, so it never calls anything.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
