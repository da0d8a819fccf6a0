package llm

import "context"

// Provider is the capability interface every LLM backend adapter satisfies.
// Adapters perform no retries and no persistence; error classification is the
// router's job.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai" or "anthropic".
	Name() string

	// Generate sends a request and returns the complete response.
	Generate(ctx context.Context, req *Request, cred Credential) (*Response, error)

	// GenerateStream sends a request and returns a channel delivering reply
	// chunks as they arrive. The adapter closes the channel after writing a
	// terminal chunk; cancellation of ctx tears the stream down.
	GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error)
}
