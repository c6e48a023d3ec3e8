package types

// ConnectionsResponse wraps the list returned by GET /connections.
type ConnectionsResponse struct {
	Connections []Connection `json:"connections"`
	Active      []string     `json:"active"`
}

// UpdateConnectionRequest carries a partial edit for PATCH
// /connections/{id}. Nil fields are left unchanged.
type UpdateConnectionRequest struct {
	Name      *string `json:"name,omitempty"`
	BaseURL   *string `json:"base_url,omitempty"`
	APIKey    *string `json:"api_key,omitempty"`
	Container *string `json:"container,omitempty"`
}

// ActiveRequest replaces the active set via PUT /active.
type ActiveRequest struct {
	IDs []string `json:"ids"`
}

// StatusResponse is returned by GET /status: the latest published
// snapshot, whole-cycle consistent.
type StatusResponse struct {
	// Poll cycle that produced this snapshot.
	Cycle uint64 `json:"cycle"`
	// Status per connection id.
	Statuses map[string]ConnectionStatus `json:"statuses"`
}

// ChatTarget names one connection and the model to run on it.
type ChatTarget struct {
	ConnectionID string `json:"connection_id"`
	Model        string `json:"model"`
}

// ChatRequest fans one prompt out to every target concurrently.
type ChatRequest struct {
	// Transcript so far, last entry being the new user prompt.
	Messages []ChatMessage `json:"messages"`
	// Targets to dispatch to. Empty means the registry's active set.
	Targets []ChatTarget `json:"targets,omitempty"`
	// Model used for active-set dispatch when Targets is empty.
	Model string `json:"model,omitempty"`
	// Request streamed chunks from backends that support it.
	Stream bool `json:"stream,omitempty"`
}

// ChatEvent is one NDJSON line of the POST /chat response stream.
// Either Delta (incremental text for one connection) or Record
// (terminal per-connection result) is set.
type ChatEvent struct {
	ConnectionID string      `json:"connection_id"`
	Delta        string      `json:"delta,omitempty"`
	Record       *ChatRecord `json:"record,omitempty"`
}

// ModelsResponse wraps the container-managed backend's model listing.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// PullRequest names a model to pull onto the container-managed backend.
type PullRequest struct {
	Name string `json:"name"`
}

// SettingsResponse exposes user-adjustable supervisor settings.
type SettingsResponse struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds"`
}

// SettingsRequest updates supervisor settings; zero fields are ignored.
type SettingsRequest struct {
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}
