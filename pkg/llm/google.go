package llm

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einoModel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Google adapts the Gemini API.
type Google struct{}

func (Google) Name() string { return "google" }

func (Google) newModel(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cred.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  model,
	})
}

func (p Google) Generate(ctx context.Context, req *Request, cred Credential) (*Response, error) {
	return einoGenerate(ctx, p.newModel, req, cred)
}

func (p Google) GenerateStream(ctx context.Context, req *Request, cred Credential) (<-chan Chunk, error) {
	return einoStream(ctx, p.newModel, req, cred)
}
