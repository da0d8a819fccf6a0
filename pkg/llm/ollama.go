package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	einoModel "github.com/cloudwego/eino/components/model"
)

// Ollama adapts local ollama instances. No credential is needed; only the
// base URL is used.
type Ollama struct{}

func (Ollama) Name() string { return "ollama" }

func (Ollama) newModel(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error) {
	return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cred.BaseURL,
		Model:   model,
	})
}

func (p Ollama) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	return einoGenerate(ctx, p.newModel, req, cred)
}

func (p Ollama) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	return einoStream(ctx, p.newModel, req, cred)
}
