package llm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// DefaultOllamaURL is used for ollama profiles without a base URL.
const DefaultOllamaURL = "http://localhost:11434/v1"

// searchToolName is declared to OpenAI-compatible backends only for profiles
// that set webSearch: true, meaning the server runs an external search tool
// that resolves the call. Plain endpoints never execute it, so for them a
// search request is a no-op.
const searchToolName = "web_search"

// openRouterTransport adds attribution headers to OpenRouter requests
type openRouterTransport struct {
	base http.RoundTripper
}

func (t *openRouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.Contains(req.URL.Host, "openrouter") {
		req = req.Clone(req.Context())
		req.Header.Set("HTTP-Referer", "https://github.com/roelfdiedericks/companion")
		req.Header.Set("X-Title", "Companion")
	}
	return t.base.RoundTrip(req)
}

// OpenAIProvider talks to OpenAI-compatible chat completion endpoints
// (OpenAI, OpenRouter, Ollama, LM Studio and friends).
type OpenAIProvider struct {
	kind      Kind
	transport http.RoundTripper
	clients   clientCache[*openai.Client]
}

// NewOpenAIProvider creates the adapter. kind is KindOpenAI or KindOllama; the
// latter only changes defaults for a local server.
func NewOpenAIProvider(kind Kind, transport http.RoundTripper) *OpenAIProvider {
	if transport == nil {
		transport = &CapturingTransport{}
	}
	return &OpenAIProvider{
		kind:      kind,
		transport: &openRouterTransport{base: transport},
	}
}

func (p *OpenAIProvider) Kind() Kind { return p.kind }

func (p *OpenAIProvider) newClient(profile Profile) (*openai.Client, error) {
	apiKey := profile.APIKey
	if apiKey == "" {
		apiKey = "not-needed" // local servers accept anything
	}
	config := openai.DefaultConfig(apiKey)

	baseURL := profile.BaseURL
	if baseURL == "" && p.kind == KindOllama {
		baseURL = DefaultOllamaURL
	}
	if baseURL != "" {
		config.BaseURL = normalizeBaseURL(baseURL)
	}
	config.HTTPClient = &http.Client{Transport: p.transport}

	L_debug("openai: client created", "profile", profile.Name, "baseURL", config.BaseURL)
	return openai.NewClientWithConfig(config), nil
}

// normalizeBaseURL appends /v1 to a bare host URL. URLs that already carry a
// path are used as given.
func normalizeBaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" || u.Path == "/" {
		return strings.TrimSuffix(raw, "/") + "/v1"
	}
	return strings.TrimSuffix(raw, "/")
}

// Send implements Provider
func (p *OpenAIProvider) Send(ctx context.Context, req *Request, profile Profile) *Result {
	start := time.Now()
	res := &Result{}

	client, err := p.clients.get(profile, p.newClient)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	ctx, capture := WithCapture(ctx)
	chatReq := p.buildRequest(req, profile)
	L_trace("openai: sending", "profile", profile.Name, "model", chatReq.Model, "messages", len(chatReq.Messages), "tools", len(chatReq.Tools))

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	res.Duration = time.Since(start)
	if err != nil {
		setOpenAIError(res, err)
		capture.apply(res)
		L_debug("openai: request failed", "profile", profile.Name, "status", res.HTTPStatus, "error", err)
		return res
	}
	capture.apply(res)

	if len(resp.Choices) == 0 {
		res.ErrorMessage = "response contained no choices"
		res.Evaluate()
		return res
	}

	choice := resp.Choices[0]
	res.Text = choice.Message.Content
	res.Thoughts = choice.Message.ReasoningContent
	if choice.FinishReason == openai.FinishReasonContentFilter {
		res.BlockReason = string(choice.FinishReason)
	} else {
		res.FinishReason = string(choice.FinishReason)
	}
	res.PromptTokens = resp.Usage.PromptTokens
	res.ResponseTokens = resp.Usage.CompletionTokens

	res.Evaluate()
	L_trace("openai: response", "profile", profile.Name, "finish", res.FinishReason, "chars", len(res.Text), "ok", res.Succeeded)
	return res
}

func (p *OpenAIProvider) buildRequest(req *Request, profile Profile) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role.AssistantRole(),
			Content: turn.Text,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserText,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    profile.Model,
		Messages: messages,
	}

	maxTokens := req.maxTokensFor(profile)
	reasoning := isReasoningModel(profile.Model)
	if reasoning {
		chatReq.MaxCompletionTokens = maxTokens
	} else {
		chatReq.MaxTokens = maxTokens
		if req.Temperature != nil {
			chatReq.Temperature = float32(*req.Temperature)
		}
	}

	if level := req.thinkingLevel(); level.IsEnabled() {
		chatReq.ReasoningEffort = level.OpenRouterEffort()
	}

	if declaresSearchTool(profile) {
		chatReq.Tools = []openai.Tool{searchTool()}
	}
	return chatReq
}

// declaresSearchTool reports whether the web_search function goes on the
// wire. :online models search natively and never get it.
func declaresSearchTool(profile Profile) bool {
	if profile.WebSearch == nil || !*profile.WebSearch {
		return false
	}
	return !strings.Contains(profile.Model, ":online")
}

func searchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        searchToolName,
			Description: "Search the web for current information before answering.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// isReasoningModel matches the OpenAI model families that reject max_tokens
// and temperature.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// setOpenAIError records HTTP errors as status data and everything else as a
// transport error.
func setOpenAIError(res *Result, err error) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		res.HTTPStatus = apiErr.HTTPStatusCode
		res.ErrorMessage = apiErr.Message
		return
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		res.HTTPStatus = reqErr.HTTPStatusCode
		if reqErr.Err != nil {
			res.ErrorMessage = reqErr.Err.Error()
		}
		return
	}
	res.Err = err
}
