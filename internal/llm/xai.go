package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roelfdiedericks/xai-go"

	. "github.com/roelfdiedericks/companion/internal/logging"
	"github.com/roelfdiedericks/companion/internal/types"
)

// XAIProvider talks to xAI's Grok models over gRPC. The transport is not HTTP,
// so failures carry no status; statuses are inferred from error messages.
type XAIProvider struct {
	clients clientCache[*xai.Client]
}

// NewXAIProvider creates the adapter.
func NewXAIProvider() *XAIProvider {
	return &XAIProvider{}
}

func (p *XAIProvider) Kind() Kind { return KindXAI }

func (p *XAIProvider) newClient(profile Profile) (*xai.Client, error) {
	client, err := xai.New(xai.Config{
		APIKey:  xai.NewSecureString(profile.APIKey),
		Timeout: profile.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create xai client: %w", err)
	}
	L_debug("xai: client created", "profile", profile.Name)
	return client, nil
}

// Send implements Provider
func (p *XAIProvider) Send(ctx context.Context, req *Request, profile Profile) *Result {
	start := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(start) }()

	client, err := p.clients.get(profile, p.newClient)
	if err != nil {
		res.Err = err
		return res
	}

	chatReq := p.buildRequest(req, profile)
	L_trace("xai: sending", "profile", profile.Name, "model", profile.Model, "history", len(req.History))

	stream, err := client.StreamChat(ctx, chatReq)
	if err != nil {
		setXAIError(res, err)
		L_debug("xai: request failed", "profile", profile.Name, "status", res.HTTPStatus, "error", err)
		return res
	}
	defer stream.Close()

	if err := collectXAIStream(stream, res); err != nil {
		setXAIError(res, err)
		L_debug("xai: stream failed", "profile", profile.Name, "status", res.HTTPStatus, "error", err)
		return res
	}

	res.Evaluate()
	L_trace("xai: response", "profile", profile.Name, "finish", res.FinishReason, "chars", len(res.Text), "ok", res.Succeeded)
	return res
}

func (p *XAIProvider) buildRequest(req *Request, profile Profile) *xai.ChatRequest {
	chatReq := xai.NewChatRequest().
		WithModel(profile.Model).
		WithMaxTokens(safeInt32(req.maxTokensFor(profile)))

	if req.SystemPrompt != "" {
		chatReq.SystemMessage(xai.SystemContent{Text: req.SystemPrompt})
	}
	for _, turn := range req.History {
		if turn.Role == types.RoleModel {
			chatReq.AssistantMessage(xai.AssistantContent{Text: turn.Text})
		} else {
			chatReq.UserMessage(xai.UserContent{Text: turn.Text})
		}
	}
	chatReq.UserMessage(xai.UserContent{Text: req.UserText})

	if effort := req.thinkingLevel().XAIEffort(); effort != nil {
		chatReq.WithReasoningEffort(*effort)
	}
	if profile.SearchEnabled(req.UseWebSearch) {
		chatReq.AddTool(xai.NewWebSearchTool())
	}
	return chatReq
}

// collectXAIStream drains the chunk stream into res. The last finish reason
// and usage win.
func collectXAIStream(stream *xai.ChunkStream, res *Result) error {
	var text, reasoning strings.Builder
	var finish xai.FinishReason
	var usage xai.Usage
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		text.WriteString(chunk.Delta)
		reasoning.WriteString(chunk.ReasoningDelta)
		for _, tc := range chunk.ToolCalls {
			if tc.Function != nil && tc.IsServerSide() {
				L_debug("xai: server tool", "tool", tc.Function.Name, "args", tc.Function.Arguments)
			}
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		usage = chunk.Usage
	}

	res.Text = text.String()
	res.Thoughts = reasoning.String()
	res.FinishReason = xaiFinishReason(finish)
	res.PromptTokens = int(usage.PromptTokens)
	res.ResponseTokens = int(usage.CompletionTokens)
	return nil
}

func xaiFinishReason(fr xai.FinishReason) string {
	switch fr {
	case "":
		return ""
	case xai.FinishReasonStop:
		return "stop"
	case xai.FinishReasonLength:
		return "length"
	default:
		return strings.ToLower(string(fr))
	}
}

// setXAIError maps gRPC failures onto HTTP-like statuses so the classifier
// can treat every backend alike.
func setXAIError(res *Result, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		res.Err = err
		return
	}
	var xaiErr *xai.Error
	if errors.As(err, &xaiErr) && xaiErr.Code == xai.ErrNotFound {
		res.HTTPStatus = 404
		res.ErrorMessage = err.Error()
		return
	}
	if status := statusFromMessage(err.Error()); status != 0 {
		res.HTTPStatus = status
		res.ErrorMessage = err.Error()
		return
	}
	res.Err = err
}
