package types

import "time"

// ConnectionKind distinguishes how a backend's lifecycle is managed.
// The chat protocol is identical for both kinds; only container-managed
// connections get start/stop and model management controls.
type ConnectionKind string

const (
	// KindContainerManaged is the local inference server running inside a
	// container we control (start/stop/inspect via the container runtime).
	KindContainerManaged ConnectionKind = "container-managed"
	// KindRemoteAPI is any OpenAI-compatible HTTP endpoint we only talk to.
	KindRemoteAPI ConnectionKind = "remote-api"
)

// Connection is one configured LLM backend.
type Connection struct {
	// Stable identifier, unique within the registry.
	ID string `json:"id"`
	// Human-friendly display name.
	Name string `json:"name"`
	// Lifecycle kind: container-managed or remote-api.
	Kind ConnectionKind `json:"kind"`
	// Base URL of the OpenAI-compatible API, e.g. http://127.0.0.1:11434.
	BaseURL string `json:"base_url"`
	// Optional bearer credential sent on chat and probe requests.
	APIKey string `json:"api_key,omitempty"`
	// Container name to inspect; required iff Kind is container-managed.
	Container string `json:"container,omitempty"`
}

// Reachability is the probe's verdict on one connection.
type Reachability string

const (
	ReachOnline  Reachability = "online"
	ReachOffline Reachability = "offline"
	// ReachUnknown means the probe itself could not be attempted
	// (malformed URL, container runtime unreachable).
	ReachUnknown Reachability = "unknown"
)

// ComputeMode classifies how the container-managed server runs inference.
// Empty for remote-api connections.
type ComputeMode string

const (
	ComputeCPU        ComputeMode = "cpu"
	ComputeGPU        ComputeMode = "gpu"
	ComputeNotRunning ComputeMode = "not-running"
)

// ConnectionStatus is one probe result. It is rebuilt wholesale every
// polling cycle and replaced atomically; fields are never mutated in place.
type ConnectionStatus struct {
	ConnectionID string       `json:"connection_id"`
	Reachability Reachability `json:"reachability"`
	ComputeMode  ComputeMode  `json:"compute_mode,omitempty"`
	CheckedAt    time.Time    `json:"checked_at"`
	LastError    string       `json:"last_error,omitempty"`
}

// ChatMessage is one turn of a chat transcript in OpenAI wire shape.
type ChatMessage struct {
	// Role is "system", "user" or "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage holds token accounting reported by a backend for one response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RecordState is the lifecycle of one per-connection chat record.
type RecordState string

const (
	RecordPending  RecordState = "pending"
	RecordComplete RecordState = "complete"
	RecordFailed   RecordState = "failed"
)

// ChatRecord tracks one connection's response within a dispatch. Records
// are mutually independent: one failing never invalidates the others.
type ChatRecord struct {
	ConnectionID string `json:"connection_id"`
	// Model the request was issued against.
	Model string `json:"model,omitempty"`
	// Accumulated response text (streamed chunks appended in arrival order).
	Text string `json:"text"`
	// Token usage from the backend's final payload; nil when not reported.
	Usage *Usage `json:"usage,omitempty"`
	State RecordState `json:"state"`
	// Error detail when State is failed.
	Err string `json:"error,omitempty"`
}

// Model describes one model served by the container-managed backend,
// parsed from the inference server's model listing.
type Model struct {
	Name     string `json:"name"`
	Digest   string `json:"digest,omitempty"`
	Size     string `json:"size,omitempty"`
	Modified string `json:"modified,omitempty"`
}
