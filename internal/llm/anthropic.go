package llm

import (
	"context"
	"errors"
	"iter"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

type AnthropicClient struct {
	client anthropic.Client
}

func (c *AnthropicClient) Chat(ctx context.Context, req Request) (string, error) {
	text, _, err := Collect(c.ChatStream(ctx, req))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, req Request) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		if c == nil {
			yield(Fragment{}, errors.New("nil client"))
			return
		}
		if err := req.validate(); err != nil {
			yield(Fragment{}, err)
			return
		}
		stream := c.client.Messages.NewStreaming(ctx, buildAnthropicParams(req))
		defer stream.Close()

		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				yield(Fragment{}, err)
				return
			}
			variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !yield(Fragment{Kind: FragmentText, Text: delta.Text}, nil) {
					return
				}
			case anthropic.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				if !yield(Fragment{Kind: FragmentReasoning, Text: delta.Thinking}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(Fragment{}, err)
		}
	}
}

func buildAnthropicParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(req.Model)),
		MaxTokens: req.maxOutputTokens(),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if budget := int64(req.ThinkingBudgetTokens); budget >= minThinkingBudget && budget < params.MaxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// buildAnthropicMessages merges consecutive same-role messages; the API
// requires alternating roles starting with the user.
func buildAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	type turn struct {
		role Role
		text []string
	}
	var turns []turn
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if len(turns) == 0 && role == RoleAssistant {
			turns = append(turns, turn{role: RoleUser, text: []string{"Continue."}})
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Text)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Text}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns)+1)
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	if len(out) == 0 || turns[len(turns)-1].role == RoleAssistant {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}
