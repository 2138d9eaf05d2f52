// Package llm is the model access capability: a plain chat call and a
// streaming call yielding text and reasoning fragments.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const (
	DefaultMaxOutputTokens = 4096
	minThinkingBudget      = 1024
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role
	Text string
}

type FragmentKind string

const (
	FragmentText      FragmentKind = "text"
	FragmentReasoning FragmentKind = "reasoning"
)

// Fragment is one streamed piece of model output.
type Fragment struct {
	Kind FragmentKind
	Text string
}

type Request struct {
	Model           string
	System          string
	Messages        []Message
	MaxOutputTokens int
	// ThinkingBudgetTokens enables extended thinking where the provider
	// supports it. Values below 1024 are ignored.
	ThinkingBudgetTokens int
}

func (r Request) maxOutputTokens() int64 {
	if r.MaxOutputTokens > 0 {
		return int64(r.MaxOutputTokens)
	}
	return DefaultMaxOutputTokens
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("missing model")
	}
	return nil
}

// Client is the model access capability.
type Client interface {
	Chat(ctx context.Context, req Request) (string, error)
	// ChatStream yields fragments in arrival order. A non-nil error ends the
	// sequence.
	ChatStream(ctx context.Context, req Request) iter.Seq2[Fragment, error]
}

// New builds a client for providerType: openai, openai_compatible, or
// anthropic.
func New(providerType string, baseURL string, apiKey string) (Client, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	apiKey = strings.TrimSpace(apiKey)
	baseURL = strings.TrimSpace(baseURL)
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	switch providerType {
	case "openai", "openai_compatible":
		opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		return &OpenAIClient{client: openai.NewClient(opts...)}, nil
	case "anthropic":
		opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, aoption.WithBaseURL(baseURL))
		}
		return &AnthropicClient{client: anthropic.NewClient(opts...)}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}

// Collect drains a stream into its text and reasoning parts.
func Collect(seq iter.Seq2[Fragment, error]) (text string, reasoning string, err error) {
	var tb, rb strings.Builder
	for f, ferr := range seq {
		if ferr != nil {
			return tb.String(), rb.String(), ferr
		}
		switch f.Kind {
		case FragmentReasoning:
			rb.WriteString(f.Text)
		default:
			tb.WriteString(f.Text)
		}
	}
	return tb.String(), rb.String(), nil
}
