package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	transport http.RoundTripper
	clients   clientCache[*genai.Client]
}

// NewGeminiProvider creates the adapter.
func NewGeminiProvider(transport http.RoundTripper) *GeminiProvider {
	if transport == nil {
		transport = &CapturingTransport{}
	}
	return &GeminiProvider{transport: transport}
}

func (p *GeminiProvider) Kind() Kind { return KindGemini }

func (p *GeminiProvider) newClient(profile Profile) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     profile.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: p.transport},
	}
	if profile.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimSuffix(profile.BaseURL, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client for %s: %w", profile.Name, err)
	}
	L_debug("gemini: client created", "profile", profile.Name, "baseURL", cfg.HTTPOptions.BaseURL)
	return client, nil
}

// Send implements Provider
func (p *GeminiProvider) Send(ctx context.Context, req *Request, profile Profile) *Result {
	start := time.Now()
	res := &Result{}

	client, err := p.clients.get(profile, p.newClient)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	ctx, capture := WithCapture(ctx)
	contents, config := p.buildRequest(req, profile)
	L_trace("gemini: sending", "profile", profile.Name, "model", profile.Model, "contents", len(contents), "tools", len(config.Tools))

	resp, err := client.Models.GenerateContent(ctx, profile.Model, contents, config)
	res.Duration = time.Since(start)
	if err != nil {
		setGeminiError(res, err)
		capture.apply(res)
		L_debug("gemini: request failed", "profile", profile.Name, "status", res.HTTPStatus, "error", err)
		return res
	}
	capture.apply(res)

	if resp.UsageMetadata != nil {
		res.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		res.ResponseTokens = int(resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		res.BlockReason = string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		if res.BlockReason == "" {
			res.ErrorMessage = "response contained no candidates"
		}
		res.Evaluate()
		return res
	}

	cand := resp.Candidates[0]
	res.FinishReason = string(cand.FinishReason)
	if cand.Content != nil {
		var text, thoughts strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if part.Thought {
				thoughts.WriteString(part.Text)
			} else {
				text.WriteString(part.Text)
			}
		}
		res.Text = text.String()
		res.Thoughts = thoughts.String()
	}

	res.Evaluate()
	L_trace("gemini: response", "profile", profile.Name, "finish", res.FinishReason, "chars", len(res.Text), "ok", res.Succeeded)
	return res
}

func (p *GeminiProvider) buildRequest(req *Request, profile Profile) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		// Gemini uses the same role names as the history.
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(turn.Role)))
	}
	contents = append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: safeInt32(req.maxTokensFor(profile)),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.Thinking {
		tc := &genai.ThinkingConfig{IncludeThoughts: req.ShowThoughts}
		if req.ThinkingBudget != nil {
			tc.ThinkingBudget = genai.Ptr(safeInt32(*req.ThinkingBudget))
		}
		config.ThinkingConfig = tc
	}
	if profile.SearchEnabled(req.UseWebSearch) {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return contents, config
}

// setGeminiError records API errors as status data and everything else as a
// transport error. The SDK returns APIError by value.
func setGeminiError(res *Result, err error) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		res.HTTPStatus = apiErr.Code
		res.ErrorMessage = apiErr.Message
		return
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code > 0 {
		res.HTTPStatus = apiErrPtr.Code
		res.ErrorMessage = apiErrPtr.Message
		return
	}
	res.Err = err
}
