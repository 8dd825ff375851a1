package handlers

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ggnet/ggboot/internal/controlplane/api/middleware"
)

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// uintParam parses a numeric chi URL parameter. Returns 0 and false after
// writing a 400 response when the parameter is not a positive integer.
func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		BadRequest(w, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// actorName returns the authenticated username for audit records, or
// "anonymous" on unauthenticated routes.
func actorName(r *http.Request) string {
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		return claims.Username
	}
	return "anonymous"
}

// formValue drains a multipart form field into a string, reading at most
// maxLen bytes (0 discards the part entirely).
func formValue(part *multipart.Part, maxLen int64) string {
	defer part.Close()
	if maxLen <= 0 {
		_, _ = io.Copy(io.Discard, part)
		return ""
	}
	var sb strings.Builder
	_, _ = io.Copy(&sb, io.LimitReader(part, maxLen))
	return strings.TrimSpace(sb.String())
}

// queryInt parses an optional integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
