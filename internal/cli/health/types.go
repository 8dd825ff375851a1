// Package health provides shared types for health check responses.
package health

// Response mirrors the control plane's /health payload.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail,omitempty"`
}
