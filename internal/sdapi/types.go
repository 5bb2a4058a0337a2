package sdapi

import "fmt"

// SDModel is one entry from the backend's model list endpoint. The worker
// only needs it for readiness and diagnostics, so most response fields are
// omitted.
type SDModel struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Hash      string `json:"hash"`
	Filename  string `json:"filename"`
}

// APIError is a terminal (non-retryable) backend response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("backend api error %d: %s", e.Status, body)
}
