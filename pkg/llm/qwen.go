package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
)

// Qwen adapts the DashScope Qwen API.
type Qwen struct{}

func (Qwen) Name() string { return "qwen" }

func (Qwen) newModel(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error) {
	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL: cred.BaseURL,
		APIKey:  cred.APIKey,
		Model:   model,
	})
}

func (p Qwen) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	return einoGenerate(ctx, p.newModel, req, cred)
}

func (p Qwen) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	return einoStream(ctx, p.newModel, req, cred)
}
