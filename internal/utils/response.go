// Package utils holds small HTTP helpers shared by the handlers that do not
// go through the JSON wrapper.
package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RespondJSON sends a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		slog.WarnContext(r.Context(), "Failed to encode response", "err", err)
	}
}

// AttachmentDisposition returns a Content-Disposition value for downloading
// a file named name.
func AttachmentDisposition(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	return `attachment; filename="` + name + `"`
}
