package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerybot/coordinator"
)

func TestLLMClientPhases(t *testing.T) {
	client := NewLLMClient()

	// First call: no tool results yet, the mock asks for the list.
	prompt := coordinator.Prompt{
		Messages: []coordinator.Message{
			{Role: "user", Content: coordinator.MessageParts{{Type: "text", Text: "what's on the list?"}}},
		},
	}
	res, err := client.Invoke(context.Background(), prompt, coordinator.CallOptions{})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "get_shopping_list", res.ToolCalls[0].Name)
	assert.Empty(t, res.Content)

	// Second call: result present, the mock closes the turn with text.
	prompt.Messages = append(prompt.Messages,
		coordinator.Message{Role: "assistant", Content: coordinator.MessageParts{
			{Type: "tool_use", ToolUseID: "mock_tu_1", ToolName: "get_shopping_list", Data: map[string]any{}},
		}},
		coordinator.Message{Role: "user", Content: coordinator.MessageParts{
			{Type: "tool_result", ToolUseID: "mock_tu_1", ToolName: "get_shopping_list", Data: map[string]any{"items": []any{}}},
		}},
	)
	res, err = client.Invoke(context.Background(), prompt, coordinator.CallOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.ToolCalls)
	assert.NotEmpty(t, res.Content)
	assert.Equal(t, "end_turn", res.StopReason)
}

func TestScriptedRepeatsLastStep(t *testing.T) {
	s := &Scripted{
		Responses: []coordinator.Response{
			{Content: "first"},
			{Content: "second"},
		},
	}

	res, err := s.Invoke(context.Background(), coordinator.Prompt{}, coordinator.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Content)

	for range 3 {
		res, err = s.Invoke(context.Background(), coordinator.Prompt{}, coordinator.CallOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, "second", res.Content)
}

func TestScriptedErrors(t *testing.T) {
	s := &Scripted{
		Responses: []coordinator.Response{{}},
		Errs:      []error{assert.AnError},
	}
	_, err := s.Invoke(context.Background(), coordinator.Prompt{}, coordinator.CallOptions{})
	require.Error(t, err)

	empty := &Scripted{}
	_, err = empty.Invoke(context.Background(), coordinator.Prompt{}, coordinator.CallOptions{})
	require.Error(t, err)
}
