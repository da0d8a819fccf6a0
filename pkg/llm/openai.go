package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einoModel "github.com/cloudwego/eino/components/model"
)

// OpenAI adapts OpenAI and OpenAI-compatible endpoints.
type OpenAI struct{}

func (OpenAI) Name() string { return "openai" }

func (OpenAI) newModel(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cred.BaseURL,
		APIKey:  cred.APIKey,
		Model:   model,
	})
}

func (p OpenAI) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	return einoGenerate(ctx, p.newModel, req, cred)
}

func (p OpenAI) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	return einoStream(ctx, p.newModel, req, cred)
}
