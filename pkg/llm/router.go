package llm

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownProvider is returned when no adapter is registered for a name.
var ErrUnknownProvider = errors.New("unknown model provider")

// Router selects the adapter for a provider name and translates raw adapter
// failures into the fixed error taxonomy. It holds no state between calls.
type Router struct {
	providers map[string]Provider
}

// NewRouter returns a router with all built-in adapters registered.
func NewRouter() *Router {
	r := &Router{providers: make(map[string]Provider)}
	for _, p := range []Provider{OpenAI{}, Anthropic{}, Google{}, Ollama{}, DeepSeek{}, Qwen{}} {
		r.Register(p)
	}
	return r
}

// Register adds or replaces an adapter. Mainly useful for tests.
func (r *Router) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Router) provider(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%q", name)
	}
	return p, nil
}

// Generate runs a non-streaming completion. Any adapter failure comes back as
// a classified *Error; the timeout bounds the whole provider call.
func (r *Router) Generate(ctx context.Context, name string, req *Request, cred Credential, timeout time.Duration) (*Response, error) {
	p, err := r.provider(name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.Generate(callCtx, req, cred)
	if err != nil {
		return nil, Classify(name, err)
	}
	return resp, nil
}

// GenerateStream runs a streaming completion. The returned channel obeys the
// chunk contract strictly: zero or more delta chunks, then exactly one
// terminal chunk. An adapter stream that closes without a terminal marker is
// surfaced as provider-unavailable. The timeout bounds the entire stream; the
// caller cancels ctx on client disconnect.
//
// The returned cancel func must be called once the stream is drained.
func (r *Router) GenerateStream(ctx context.Context, name string, req *Request, cred Credential, timeout time.Duration) (<-chan Chunk, context.CancelFunc, error) {
	p, err := r.provider(name)
	if err != nil {
		return nil, nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)

	raw, err := p.GenerateStream(callCtx, req, cred)
	if err != nil {
		cancel()
		return nil, nil, Classify(name, err)
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)

		terminal := false
		for c := range raw {
			if terminal {
				// Adapter misbehavior: drop anything after the terminal
				// chunk rather than break the contract downstream.
				continue
			}
			if c.Err != nil {
				c = Chunk{Err: Classify(name, c.Err)}
			}
			if c.Terminal() {
				terminal = true
			}
			select {
			case out <- c:
			case <-callCtx.Done():
				return
			}
		}
		if !terminal {
			// A stream that ends without a terminal marker is a provider
			// fault, except when our own deadline fired first.
			kind := KindProviderUnavailable
			err := errors.Errorf("provider %s stream ended without terminal chunk", name)
			if ctxErr := callCtx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
				kind = KindTimeout
				err = ctxErr
			}
			select {
			case out <- Chunk{Err: &Error{Kind: kind, Provider: name, Err: err}}:
			case <-time.After(time.Second):
			}
		}
	}()
	return out, cancel, nil
}
