package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	einoModel "github.com/cloudwego/eino/components/model"
)

// DeepSeek adapts the DeepSeek API.
type DeepSeek struct{}

func (DeepSeek) Name() string { return "deepseek" }

func (DeepSeek) newModel(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error) {
	return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
		BaseURL: cred.BaseURL,
		APIKey:  cred.APIKey,
		Model:   model,
	})
}

func (p DeepSeek) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	return einoGenerate(ctx, p.newModel, req, cred)
}

func (p DeepSeek) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	return einoStream(ctx, p.newModel, req, cred)
}
