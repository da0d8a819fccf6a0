package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/claude"
	einoModel "github.com/cloudwego/eino/components/model"
)

const anthropicDefaultMaxTokens = 4096

// Anthropic adapts the Claude API.
type Anthropic struct{}

func (Anthropic) Name() string { return "anthropic" }

func (Anthropic) newModel(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error) {
	cfg := &claude.Config{
		APIKey: cred.APIKey,
		Model:  model,
		// Claude requires max tokens at model construction; the per-call
		// option still overrides this.
		MaxTokens: anthropicDefaultMaxTokens,
	}
	if cred.BaseURL != "" {
		cfg.BaseURL = &cred.BaseURL
	}
	return claude.NewChatModel(ctx, cfg)
}

func (p Anthropic) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	return einoGenerate(ctx, p.newModel, req, cred)
}

func (p Anthropic) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	return einoStream(ctx, p.newModel, req, cred)
}
