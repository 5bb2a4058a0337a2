package handler

import "encoding/json"

// Job is one queued inference request. Input is forwarded to the backend's
// txt2img endpoint unmodified; its schema belongs to the webui project.
type Job struct {
	ID    string          `json:"id"`
	Input json.RawMessage `json:"input"`
}

// Result is the published job outcome. Success carries the backend's JSON
// payload as-is; failure carries the error with status "failed".
type Result struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
