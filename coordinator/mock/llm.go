package mock

import (
	"context"
	"fmt"
	"log/slog"

	"grocerybot/coordinator"
)

// LLMClient is a deterministic stand-in for a real model, useful for local
// development without an API key. It reads the shopping list once and then
// answers with a canned confirmation. Real LLMs may not be so kind :)
type LLMClient struct{}

func NewLLMClient() *LLMClient {
	return &LLMClient{}
}

func (m *LLMClient) Model() string { return "mock-model" }

func (m *LLMClient) Invoke(ctx context.Context, prompt coordinator.Prompt, opts coordinator.CallOptions) (coordinator.Response, error) {
	slog.Info("mock: invoked", "messages", len(prompt.Messages))

	// Phase 1: no list read yet, ask for it.
	if !hasToolResult(prompt, "get_shopping_list") {
		return coordinator.Response{
			StopReason: "tool_use",
			ToolCalls: []coordinator.ToolCall{
				{Name: "get_shopping_list", Input: map[string]any{}, ToolUseID: "mock_tu_1"},
			},
			Usage: coordinator.Usage{InputTokens: 1, OutputTokens: 1},
		}, nil
	}

	// Phase 2: list in hand, close the turn.
	return coordinator.Response{
		Content:    "Here's where the list stands. Anything to add?",
		StopReason: "end_turn",
		Usage:      coordinator.Usage{InputTokens: 1, OutputTokens: 1},
	}, nil
}

// Scripted replays a fixed sequence of responses and errors, then repeats
// the last step.
type Scripted struct {
	Responses []coordinator.Response
	Errs      []error
	calls     int
}

func (s *Scripted) Model() string { return "scripted-model" }

func (s *Scripted) Invoke(ctx context.Context, prompt coordinator.Prompt, opts coordinator.CallOptions) (coordinator.Response, error) {
	i := s.calls
	s.calls++
	if len(s.Responses) == 0 {
		return coordinator.Response{}, fmt.Errorf("scripted client has no responses")
	}
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	var err error
	if i < len(s.Errs) {
		err = s.Errs[i]
	}
	return s.Responses[i], err
}

func hasToolResult(prompt coordinator.Prompt, toolName string) bool {
	for _, m := range prompt.Messages {
		for _, part := range m.Content {
			if part.Type == "tool_result" && part.ToolName == toolName {
				return true
			}
		}
	}
	return false
}
