package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/companion/internal/logging"
	"github.com/roelfdiedericks/companion/internal/types"
)

// webSearchMaxUses caps server-side searches per request.
const webSearchMaxUses = 3

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	transport http.RoundTripper
	clients   clientCache[*anthropic.Client]
}

// NewAnthropicProvider creates the adapter.
func NewAnthropicProvider(transport http.RoundTripper) *AnthropicProvider {
	if transport == nil {
		transport = &CapturingTransport{}
	}
	return &AnthropicProvider{transport: transport}
}

func (p *AnthropicProvider) Kind() Kind { return KindAnthropic }

func (p *AnthropicProvider) newClient(profile Profile) (*anthropic.Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(profile.APIKey),
		option.WithHTTPClient(&http.Client{Transport: p.transport}),
		// The registry owns retries: a failure moves on to the next profile.
		option.WithMaxRetries(0),
	}
	if profile.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(profile.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	L_debug("anthropic: client created", "profile", profile.Name, "baseURL", profile.BaseURL)
	return &client, nil
}

// Send implements Provider
func (p *AnthropicProvider) Send(ctx context.Context, req *Request, profile Profile) *Result {
	start := time.Now()
	res := &Result{}

	client, err := p.clients.get(profile, p.newClient)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	ctx, capture := WithCapture(ctx)
	params := p.buildParams(req, profile)
	L_trace("anthropic: sending", "profile", profile.Name, "model", profile.Model, "messages", len(params.Messages), "maxTokens", params.MaxTokens)

	msg, err := client.Messages.New(ctx, params)
	res.Duration = time.Since(start)
	if err != nil {
		setAnthropicError(res, err)
		capture.apply(res)
		L_debug("anthropic: request failed", "profile", profile.Name, "status", res.HTTPStatus, "error", err)
		return res
	}
	capture.apply(res)

	var text, thoughts strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ThinkingBlock:
			thoughts.WriteString(variant.Thinking)
		}
	}
	res.Text = text.String()
	res.Thoughts = thoughts.String()

	if msg.StopReason == anthropic.StopReasonRefusal {
		res.BlockReason = string(msg.StopReason)
	} else {
		res.FinishReason = string(msg.StopReason)
	}
	res.PromptTokens = int(msg.Usage.InputTokens)
	res.ResponseTokens = int(msg.Usage.OutputTokens)

	res.Evaluate()
	L_trace("anthropic: response", "profile", profile.Name, "stopReason", msg.StopReason, "chars", len(res.Text), "ok", res.Succeeded)
	return res
}

func (p *AnthropicProvider) buildParams(req *Request, profile Profile) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == types.RoleModel {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserText)))

	maxTokens := req.maxTokensFor(profile)
	params := anthropic.MessageNewParams{
		Model:    anthropic.Model(profile.Model),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	if level := req.thinkingLevel(); level.IsEnabled() {
		budget := level.BudgetTokens()
		if req.ThinkingBudget != nil {
			budget = max(*req.ThinkingBudget, MinThinkingBudget)
		}
		// max_tokens must exceed the thinking budget.
		if maxTokens <= budget {
			maxTokens = budget + maxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	} else if req.Temperature != nil {
		// Temperature is rejected while thinking is enabled.
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	params.MaxTokens = int64(maxTokens)

	if profile.SearchEnabled(req.UseWebSearch) {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
				MaxUses: anthropic.Int(webSearchMaxUses),
			},
		}}
	}
	return params
}

func setAnthropicError(res *Result, err error) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		res.HTTPStatus = apiErr.StatusCode
		return
	}
	res.Err = err
}
