// Package llm defines the provider-agnostic LLM invocation layer: a common
// request/response/chunk shape, one adapter per backend, and a router that
// selects adapters and classifies their failures.
package llm

// Turn is a single provider-agnostic conversation turn.
type Turn struct {
	Role string `json:"role"` // "system", "user", or "assistant"
	Text string `json:"text"`
}

// Turn roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the normalized form of one model invocation.
type Request struct {
	Model       string   // provider-side model id
	Turns       []Turn   // ordered; system first, newest user turn last
	MaxTokens   int
	Temperature *float64
}

// Usage holds normalized token counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete (non-streaming) model reply.
type Response struct {
	Text      string
	Usage     *Usage // nil when the provider reports nothing
	RequestID string // provider request id when available
}

// Chunk is one piece of a streaming reply.
//
// Invariant: a non-terminal chunk carries only Delta. Exactly one terminal
// chunk is produced per stream — either Done=true (optionally with Usage and
// RequestID) or Err set. The router enforces this on every adapter stream.
type Chunk struct {
	Delta     string
	Done      bool
	Usage     *Usage // populated only when Done
	RequestID string // populated only when Done
	Err       error  // terminal failure; mutually exclusive with Done
}

// Terminal reports whether this chunk ends the stream.
func (c Chunk) Terminal() bool {
	return c.Done || c.Err != nil
}

// Credential carries per-call provider credentials. Encryption-at-rest of
// stored credentials is handled by an external layer.
type Credential struct {
	APIKey  string
	BaseURL string
}
