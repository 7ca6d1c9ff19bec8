package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerybot/coordinator"
)

// mockBedrockClient implements bedrockRuntimeClient for testing.
type mockBedrockClient struct {
	input    *bedrockruntime.ConverseInput
	response *bedrockruntime.ConverseOutput
	err      error
}

func (m *mockBedrockClient) Converse(ctx context.Context, input *bedrockruntime.ConverseInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = input
	return m.response, m.err
}

// responseDoc mimics a document deserialized from a real Converse response.
// document.NewLazyDocument's UnmarshalSmithyDocument returns a spurious
// "unsupported json type" error even after populating the target, which
// response documents do not, so the mock must not use it directly.
type responseDoc struct {
	document.Interface
}

func newResponseDoc(v any) document.Interface {
	return responseDoc{document.NewLazyDocument(v)}
}

func (d responseDoc) UnmarshalSmithyDocument(v any) error {
	b, err := d.Interface.MarshalSmithyDocument()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func textOutput(texts ...string) *bedrockruntime.ConverseOutput {
	var blocks []types.ContentBlock
	for _, s := range texts {
		blocks = append(blocks, &types.ContentBlockMemberText{Value: s})
	}
	return &bedrockruntime.ConverseOutput{
		StopReason: "end_turn",
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{Content: blocks},
		},
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(10),
			OutputTokens: aws.Int32(20),
		},
	}
}

func TestNewLLMClient(t *testing.T) {
	tests := []struct {
		name     string
		input    LLMOptions
		expected LLMOptions
	}{
		{
			name:  "empty options uses defaults",
			input: LLMOptions{},
			expected: LLMOptions{
				ModelID:     defaultModelID,
				Temperature: defaultTemperature,
				TopP:        defaultTopP,
			},
		},
		{
			name: "custom options preserved",
			input: LLMOptions{
				ModelID:     "custom-model",
				Temperature: 0.5,
				TopP:        0.8,
			},
			expected: LLMOptions{
				ModelID:     "custom-model",
				Temperature: 0.5,
				TopP:        0.8,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &mockBedrockClient{}
			client := NewLLMClient(mockClient, tt.input)

			assert.Equal(t, tt.expected, client.opts)
			assert.Equal(t, tt.expected.ModelID, client.Model())
		})
	}
}

func TestLLMClientInvoke(t *testing.T) {
	tests := []struct {
		name          string
		prompt        coordinator.Prompt
		mockResponse  *bedrockruntime.ConverseOutput
		mockError     error
		expectedResp  coordinator.Response
		expectedError string
	}{
		{
			name: "successful text response",
			prompt: coordinator.Prompt{
				Messages: []coordinator.Message{
					{Role: "user", Content: coordinator.MessageParts{{Type: "text", Text: "Hello"}}},
				},
			},
			mockResponse: textOutput("Hi there."),
			expectedResp: coordinator.Response{
				Content:    "Hi there.",
				StopReason: "end_turn",
				Usage:      coordinator.Usage{InputTokens: 10, OutputTokens: 20},
			},
		},
		{
			name: "tool use response",
			prompt: coordinator.Prompt{
				Messages: []coordinator.Message{
					{Role: "user", Content: coordinator.MessageParts{{Type: "text", Text: "Add milk"}}},
				},
			},
			mockResponse: &bedrockruntime.ConverseOutput{
				StopReason: "tool_use",
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Content: []types.ContentBlock{
							&types.ContentBlockMemberToolUse{
								Value: types.ToolUseBlock{
									ToolUseId: aws.String("test-id"),
									Name:      aws.String("add_item"),
									Input:     newResponseDoc(map[string]any{"name": "milk"}),
								},
							},
						},
					},
				},
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(10),
					OutputTokens: aws.Int32(20),
				},
			},
			expectedResp: coordinator.Response{
				ToolCalls: []coordinator.ToolCall{
					{Name: "add_item", Input: map[string]any{"name": "milk"}, ToolUseID: "test-id"},
				},
				StopReason: "tool_use",
				Usage:      coordinator.Usage{InputTokens: 10, OutputTokens: 20},
			},
		},
		{
			name: "safety filter error",
			prompt: coordinator.Prompt{
				Messages: []coordinator.Message{
					{Role: "user", Content: coordinator.MessageParts{{Type: "text", Text: "Hello"}}},
				},
			},
			mockResponse: &bedrockruntime.ConverseOutput{
				StopReason: "content_filtered",
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(10),
					OutputTokens: aws.Int32(20),
				},
			},
			expectedError: "blocked by safety filters",
		},
		{
			name: "bedrock API error",
			prompt: coordinator.Prompt{
				Messages: []coordinator.Message{
					{Role: "user", Content: coordinator.MessageParts{{Type: "text", Text: "Hello"}}},
				},
			},
			mockError:     assert.AnError,
			expectedError: "assert.AnError general error for testing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &mockBedrockClient{
				response: tt.mockResponse,
				err:      tt.mockError,
			}

			llmClient := NewLLMClient(mockClient, LLMOptions{})
			resp, err := llmClient.Invoke(context.Background(), tt.prompt, coordinator.CallOptions{})

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedResp, resp)
		})
	}
}

func TestInvokePassesSystemAndBudget(t *testing.T) {
	mockClient := &mockBedrockClient{response: textOutput("ok")}
	client := NewLLMClient(mockClient, LLMOptions{})

	prompt := coordinator.Prompt{
		System: "be brief",
		Messages: []coordinator.Message{
			{Role: "user", Content: coordinator.MessageParts{{Type: "text", Text: "hi"}}},
		},
		Tools: []coordinator.Tool{
			{Name: "add_item", Description: "adds an item", InputSchema: &jsonschema.Schema{Type: "object"}},
		},
	}

	_, err := client.Invoke(context.Background(), prompt, coordinator.CallOptions{MaxTokens: 512})
	require.NoError(t, err)

	in := mockClient.input
	require.NotNil(t, in)
	require.Len(t, in.System, 1)
	assert.Equal(t, "be brief", in.System[0].(*types.SystemContentBlockMemberText).Value)
	assert.EqualValues(t, 512, aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.NotNil(t, in.ToolConfig)
	assert.Len(t, in.ToolConfig.Tools, 1)
}

func TestBuildMessagesToolResultStatus(t *testing.T) {
	msgs, err := buildMessages([]coordinator.Message{
		{Role: "user", Content: coordinator.MessageParts{
			{Type: "tool_result", ToolUseID: "tu_1", Data: map[string]any{"success": true}},
			{Type: "tool_result", ToolUseID: "tu_2", Data: map[string]any{"error": "boom"}, IsError: true},
		}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)

	ok := msgs[0].Content[0].(*types.ContentBlockMemberToolResult).Value
	assert.Equal(t, types.ToolResultStatusSuccess, ok.Status)

	failed := msgs[0].Content[1].(*types.ContentBlockMemberToolResult).Value
	assert.Equal(t, types.ToolResultStatusError, failed.Status)
}

func TestBuildMessagesRejectsNilToolResult(t *testing.T) {
	_, err := buildMessages([]coordinator.Message{
		{Role: "user", Content: coordinator.MessageParts{
			{Type: "tool_result", ToolUseID: "tu_1"},
		}},
	})
	require.Error(t, err)
}

func TestTextFromOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   *bedrockruntime.ConverseOutput
		expected string
	}{
		{
			name:     "nil output",
			output:   nil,
			expected: "",
		},
		{
			name:     "single text block",
			output:   textOutput("Hello world"),
			expected: "Hello world",
		},
		{
			name:     "multiple text blocks",
			output:   textOutput("Hello", "world"),
			expected: "Hello\nworld",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textFromOutput(tt.output))
		})
	}
}

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{
			name:     "whole number float to int",
			input:    2.0,
			expected: 2,
		},
		{
			name:     "decimal float unchanged",
			input:    2.5,
			expected: 2.5,
		},
		{
			name:     "string unchanged",
			input:    "hello",
			expected: "hello",
		},
		{
			name:     "nested map normalized",
			input:    map[string]any{"qty": 3.0, "tags": []any{1.0, "a"}},
			expected: map[string]any{"qty": 3, "tags": []any{1, "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeInput(tt.input))
		})
	}
}

func TestBuildToolSpec(t *testing.T) {
	spec, err := buildToolSpec(coordinator.Tool{
		Name:        "add_item",
		Description: "adds an item to the list",
		InputSchema: &jsonschema.Schema{Type: "object"},
	})
	require.NoError(t, err)
	assert.Equal(t, "add_item", *spec.Name)
	assert.Equal(t, "adds an item to the list", *spec.Description)
	assert.NotNil(t, spec.InputSchema)
}
