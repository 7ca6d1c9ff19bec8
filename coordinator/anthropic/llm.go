package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"grocerybot"
	"grocerybot/coordinator"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1/messages"

	// apiVersion is the anthropic-version header value the Messages API requires.
	apiVersion = "2023-06-01"

	defaultModel = "claude-sonnet-4-5-20250929"

	// defaultMaxTokens applies when the caller passes no per-call budget.
	defaultMaxTokens = 2048

	defaultTimeout = 60 * time.Second
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type LLMOptions struct {
	Model   string
	BaseURL string

	// EnablePromptCaching marks the system prompt and tool catalogue with
	// ephemeral cache_control so repeat turns reuse the cached prefix.
	EnablePromptCaching bool
}

// LLMClient speaks the Anthropic Messages API over a plain HTTP doer.
type LLMClient struct {
	apiKey     string
	httpClient doer
	opts       LLMOptions
}

func NewLLMClient(apiKey string, httpClient doer, opts LLMOptions) *LLMClient {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LLMClient{
		apiKey:     apiKey,
		httpClient: httpClient,
		opts:       opts,
	}
}

func (c *LLMClient) Model() string { return c.opts.Model }

func (c *LLMClient) Invoke(ctx context.Context, prompt coordinator.Prompt, callOpts coordinator.CallOptions) (coordinator.Response, error) {
	ctx, span := otel.Tracer(grocerybot.TracerNameAnthropic).Start(ctx, "anthropic.Invoke")
	defer span.End()

	timeout := callOpts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.buildRequest(prompt, callOpts)
	if err != nil {
		return coordinator.Response{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return coordinator.Response{}, fmt.Errorf("encoding messages request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return coordinator.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	slog.Info("anthropic: invoke",
		"model", c.opts.Model,
		"messages", len(prompt.Messages),
		"tools", len(prompt.Tools),
		"max_tokens", req.MaxTokens,
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return coordinator.Response{}, fmt.Errorf("calling messages API: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return coordinator.Response{}, fmt.Errorf("reading messages response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr errorEnvelope
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return coordinator.Response{}, fmt.Errorf("messages API %s: %s: %s", httpResp.Status, apiErr.Error.Type, apiErr.Error.Message)
		}
		return coordinator.Response{}, fmt.Errorf("messages API %s", httpResp.Status)
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return coordinator.Response{}, fmt.Errorf("decoding messages response: %w", err)
	}

	out := coordinator.Response{
		StopReason: resp.StopReason,
		Usage: coordinator.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}

	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			input, _ := normalizeInput(block.Input).(map[string]any)
			if input == nil {
				input = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, coordinator.ToolCall{
				Name:      block.Name,
				Input:     input,
				ToolUseID: block.ID,
			})
		}
	}
	out.Content = strings.Join(texts, "\n")

	slog.Info("anthropic: invoke succeeded",
		"stop_reason", resp.StopReason,
		"tool_calls", len(out.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return out, nil
}

func (c *LLMClient) buildRequest(prompt coordinator.Prompt, callOpts coordinator.CallOptions) (request, error) {
	maxTokens := callOpts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := request{
		Model:     c.opts.Model,
		MaxTokens: maxTokens,
	}

	if prompt.System != "" {
		block := systemBlock{Type: "text", Text: prompt.System}
		if c.opts.EnablePromptCaching {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		req.System = []systemBlock{block}
	}

	for i, t := range prompt.Tools {
		spec, err := buildToolSpec(t)
		if err != nil {
			return request{}, err
		}
		if c.opts.EnablePromptCaching && i == len(prompt.Tools)-1 {
			spec.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		req.Tools = append(req.Tools, spec)
	}

	for _, m := range prompt.Messages {
		msg := message{Role: m.Role}
		for _, part := range m.Content {
			switch part.Type {
			case "text":
				msg.Content = append(msg.Content, contentBlock{Type: "text", Text: part.Text})

			case "tool_use":
				input := part.Data
				if input == nil {
					input = map[string]any{}
				}
				msg.Content = append(msg.Content, contentBlock{
					Type:  "tool_use",
					ID:    part.ToolUseID,
					Name:  part.ToolName,
					Input: input,
				})

			case "tool_result":
				result, err := json.Marshal(part.Data)
				if err != nil {
					return request{}, fmt.Errorf("encoding tool result for %s: %w", part.ToolUseID, err)
				}
				msg.Content = append(msg.Content, contentBlock{
					Type:      "tool_result",
					ToolUseID: part.ToolUseID,
					Content:   string(result),
					IsError:   part.IsError,
				})
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

// buildToolSpec pre-marshals the schema so its custom MarshalJSON runs before
// the request encoder sees it.
func buildToolSpec(t coordinator.Tool) (toolSpec, error) {
	schemaJSON, err := json.Marshal(t.InputSchema)
	if err != nil {
		return toolSpec{}, fmt.Errorf("marshaling tool schema for %s: %w", t.Name, err)
	}
	return toolSpec{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: json.RawMessage(schemaJSON),
	}, nil
}

// normalizeInput recursively coerces whole floats back to ints so tool
// inputs round-trip the way the model meant them.
func normalizeInput(val any) any {
	switch v := val.(type) {
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
		return v

	case []any:
		for i := range v {
			v[i] = normalizeInput(v[i])
		}
		return v

	case map[string]any:
		for key, val := range v {
			v[key] = normalizeInput(val)
		}
		return v

	default:
		return v
	}
}
