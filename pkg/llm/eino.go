package llm

import (
	"context"
	"errors"
	"io"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// chatModelFactory builds a provider-specific eino chat model for one call.
// Models are constructed per invocation so credentials stay per-request and
// no provider client outlives a send attempt.
type chatModelFactory func(ctx context.Context, model string, cred Credential) (einoModel.BaseChatModel, error)

func turnsToSchema(turns []Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			msgs = append(msgs, schema.SystemMessage(t.Text))
		case RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Text, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Text))
		}
	}
	return msgs
}

func callOptions(req *Request) []einoModel.Option {
	opts := make([]einoModel.Option, 0, 2)
	if req.MaxTokens > 0 {
		opts = append(opts, einoModel.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, einoModel.WithTemperature(float32(*req.Temperature)))
	}
	return opts
}

func toUsage(u *schema.TokenUsage) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// einoGenerate runs a single non-streaming completion through an eino model.
func einoGenerate(ctx context.Context, factory chatModelFactory, req *Request, cred Credential) (*Response, error) {
	cm, err := factory(ctx, req.Model, cred)
	if err != nil {
		return nil, err
	}
	msg, err := cm.Generate(ctx, turnsToSchema(req.Turns), callOptions(req)...)
	if err != nil {
		return nil, err
	}
	resp := &Response{Text: msg.Content}
	if msg.ResponseMeta != nil {
		resp.Usage = toUsage(msg.ResponseMeta.Usage)
	}
	return resp, nil
}

// einoStream runs a streaming completion, converting the eino stream reader
// into the normalized chunk channel. EOF becomes the terminal Done chunk
// (carrying whatever usage the provider reported); any other receive error
// becomes a terminal Err chunk for the router to classify.
func einoStream(ctx context.Context, factory chatModelFactory, req *Request, cred Credential) (<-chan Chunk, error) {
	cm, err := factory(ctx, req.Model, cred)
	if err != nil {
		return nil, err
	}
	sr, err := cm.Stream(ctx, turnsToSchema(req.Turns), callOptions(req)...)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)
		defer sr.Close()

		var usage *Usage
		for {
			msg, recvErr := sr.Recv()
			if recvErr != nil {
				if errors.Is(recvErr, io.EOF) {
					emit(ctx, out, Chunk{Done: true, Usage: usage})
				} else {
					emit(ctx, out, Chunk{Err: recvErr})
				}
				return
			}
			if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
				usage = toUsage(msg.ResponseMeta.Usage)
			}
			if msg.Content != "" {
				if !emit(ctx, out, Chunk{Delta: msg.Content}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
