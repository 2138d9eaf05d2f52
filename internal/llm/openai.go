package llm

import (
	"context"
	"errors"
	"iter"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// OpenAIClient talks to the Responses API. It also serves
// openai_compatible gateways through a custom base URL.
type OpenAIClient struct {
	client openai.Client
}

func (c *OpenAIClient) Chat(ctx context.Context, req Request) (string, error) {
	text, _, err := Collect(c.ChatStream(ctx, req))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *OpenAIClient) ChatStream(ctx context.Context, req Request) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		if c == nil {
			yield(Fragment{}, errors.New("nil client"))
			return
		}
		if err := req.validate(); err != nil {
			yield(Fragment{}, err)
			return
		}
		stream := c.client.Responses.NewStreaming(ctx, buildOpenAIParams(req))
		defer stream.Close()

		gotCompleted := false
		for stream.Next() {
			event := stream.Current()
			switch strings.TrimSpace(event.Type) {
			case "response.output_text.delta":
				if delta := event.Delta.OfString; delta != "" {
					if !yield(Fragment{Kind: FragmentText, Text: delta}, nil) {
						return
					}
				}
			case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
				if delta := event.Delta.OfString; delta != "" {
					if !yield(Fragment{Kind: FragmentReasoning, Text: delta}, nil) {
						return
					}
				}
			case "error":
				msg := strings.TrimSpace(event.Message)
				if msg == "" {
					msg = "provider stream error"
				}
				yield(Fragment{}, errors.New(msg))
				return
			case "response.completed":
				gotCompleted = true
			}
		}
		if err := stream.Err(); err != nil {
			yield(Fragment{}, err)
			return
		}
		if !gotCompleted {
			yield(Fragment{}, errors.New("openai stream ended without response.completed"))
		}
	}
}

func buildOpenAIParams(req Request) oresponses.ResponseNewParams {
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(strings.TrimSpace(req.Model)),
		MaxOutputTokens: openai.Int(req.maxOutputTokens()),
	}
	items := make(oresponses.ResponseInputParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := oresponses.EasyInputMessageRoleUser
		if m.Role == RoleAssistant {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		items = append(items, oresponses.ResponseInputItemParamOfMessage(m.Text, role))
	}
	if len(items) == 0 {
		items = append(items, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: items}
	if system := strings.TrimSpace(req.System); system != "" {
		params.Instructions = openai.String(system)
	}
	return params
}
