package coordinator

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"grocerybot"
)

// Prompt is the backend-agnostic request shape sent to an LLM client.
type Prompt struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

type Message struct {
	Role    string       `json:"role"`
	Content MessageParts `json:"content"`
}

type MessageParts []MessagePart

// MessagePart is one content block: plain text, an assistant tool_use
// request, or a tool_result tied back to its originating use id.
type MessagePart struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

func (mp MessageParts) Join() string {
	var out string
	for _, part := range mp {
		if part.Type == "text" {
			out += part.Text
		}
	}
	return out
}

type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// ToolCall is a tool invocation the model requested in one turn.
type ToolCall struct {
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// ToolResult pairs a tool's output with the tool_use id it answers.
type ToolResult struct {
	ToolUseID string
	ToolName  string
	Data      map[string]any
	IsError   bool
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is what an LLM client returns from one invocation.
type Response struct {
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// CallOptions bound a single invocation. The final summary call after limit
// exhaustion uses a smaller token budget and a shorter timeout than a
// normal turn.
type CallOptions struct {
	MaxTokens int
	Timeout   time.Duration
}

// LLMClient is the model endpoint surface the loop drives.
type LLMClient interface {
	Invoke(ctx context.Context, prompt Prompt, opts CallOptions) (Response, error)
	Model() string
}

// NewPrompt assembles the initial prompt: system text, the tool catalogue,
// and a first user message carrying the context snapshot plus the user's
// words.
func NewPrompt(system, firstMessage string, tp grocerybot.ToolProvider) Prompt {
	catalogue := tp.GetTools()
	promptTools := make([]Tool, 0, len(catalogue))
	for _, t := range catalogue {
		promptTools = append(promptTools, Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return Prompt{
		System: system,
		Messages: []Message{
			{Role: "user", Content: MessageParts{{Type: "text", Text: firstMessage}}},
		},
		Tools: promptTools,
	}
}

// NewToolResultMessage packs tool results into the user-role message the
// Messages API expects them in.
func NewToolResultMessage(results []ToolResult) Message {
	parts := make(MessageParts, 0, len(results))
	for _, r := range results {
		parts = append(parts, MessagePart{
			Type:      "tool_result",
			ToolUseID: r.ToolUseID,
			ToolName:  r.ToolName,
			Data:      r.Data,
			IsError:   r.IsError,
		})
	}
	return Message{Role: "user", Content: parts}
}
