package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel"

	"grocerybot"
	"grocerybot/coordinator"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"

	// defaultMaxTokens applies when the caller passes no per-call budget.
	defaultMaxTokens = 2048

	// Low temperature and top_p keep outputs more deterministic, which is
	// better for tool use and structured outputs.
	defaultTemperature = 0.2
	defaultTopP        = 0.9

	defaultTimeout = 60 * time.Second
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type LLMOptions struct {
	ModelID     string
	Temperature float32
	TopP        float32
}

// LLMClient drives Claude through the Bedrock Converse API. It is the
// drop-in alternative to the direct Anthropic client for AWS deployments.
type LLMClient struct {
	brc  bedrockRuntimeClient
	opts LLMOptions
}

func NewLLMClient(brc bedrockRuntimeClient, opts LLMOptions) *LLMClient {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &LLMClient{
		brc:  brc,
		opts: opts,
	}
}

func (c *LLMClient) Model() string { return c.opts.ModelID }

func (c *LLMClient) Invoke(ctx context.Context, prompt coordinator.Prompt, callOpts coordinator.CallOptions) (coordinator.Response, error) {
	ctx, span := otel.Tracer(grocerybot.TracerNameBedrock).Start(ctx, "bedrock.Invoke")
	defer span.End()

	timeout := callOpts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := callOpts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var sys []types.SystemContentBlock
	if prompt.System != "" {
		sys = append(sys, &types.SystemContentBlockMemberText{Value: prompt.System})
	}

	msgs, err := buildMessages(prompt.Messages)
	if err != nil {
		return coordinator.Response{}, err
	}

	var toolCfg *types.ToolConfiguration
	if len(prompt.Tools) > 0 {
		specs := make([]types.Tool, 0, len(prompt.Tools))
		for _, t := range prompt.Tools {
			spec, err := buildToolSpec(t)
			if err != nil {
				return coordinator.Response{}, err
			}
			specs = append(specs, &types.ToolMemberToolSpec{Value: spec})
		}
		toolCfg = &types.ToolConfiguration{Tools: specs, ToolChoice: &types.ToolChoiceMemberAuto{}}
	}

	slog.Info("bedrock: invoke",
		"model", c.opts.ModelID,
		"messages", len(msgs),
		"tools", len(prompt.Tools),
		"max_tokens", maxTokens,
	)

	out, err := c.brc.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  &c.opts.ModelID,
		System:   sys,
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
		ToolConfig: toolCfg,
	})
	if err != nil {
		slog.Error("bedrock: converse failed", "error", err)
		return coordinator.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}

	resp := coordinator.Response{StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = coordinator.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	switch out.StopReason {
	case "safety", "content_filtered", "guardrail_intervened":
		slog.Warn("bedrock: response blocked by safety filters", "stop_reason", out.StopReason)
		return coordinator.Response{}, fmt.Errorf("model response blocked by safety filters (%s)", out.StopReason)
	}

	resp.Content = textFromOutput(out)
	resp.ToolCalls = toolCallsFromOutput(out)

	slog.Info("bedrock: invoke succeeded",
		"stop_reason", out.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return resp, nil
}

// buildMessages maps backend-agnostic messages onto Converse content blocks.
func buildMessages(messages []coordinator.Message) ([]types.Message, error) {
	var msgs []types.Message
	for _, m := range messages {
		msg := types.Message{Role: types.ConversationRole(m.Role)}

		for _, part := range m.Content {
			switch part.Type {
			case "text":
				msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: part.Text})

			case "tool_use":
				input := part.Data
				if input == nil {
					input = map[string]any{}
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(part.ToolUseID),
					Name:      aws.String(part.ToolName),
					Input:     document.NewLazyDocument(input),
				}})

			case "tool_result":
				if part.Data == nil {
					return nil, fmt.Errorf("tool result for %s has no data", part.ToolUseID)
				}
				status := types.ToolResultStatusSuccess
				if part.IsError {
					status = types.ToolResultStatusError
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(part.ToolUseID),
					Status:    status,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberJson{
							Value: document.NewLazyDocument(part.Data),
						},
					},
				}})
			}
		}

		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// buildToolSpec pre-marshals the schema so its custom MarshalJSON runs before
// the document system sees it.
func buildToolSpec(t coordinator.Tool) (types.ToolSpecification, error) {
	schemaJSON, err := json.Marshal(t.InputSchema)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("marshaling tool schema for %s: %w", t.Name, err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return types.ToolSpecification{}, fmt.Errorf("unmarshaling tool schema for %s: %w", t.Name, err)
	}

	return types.ToolSpecification{
		Name:        aws.String(t.Name),
		Description: aws.String(t.Description),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// textFromOutput joins the assistant's text blocks.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || len(msg.Value.Content) == 0 {
		return ""
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	return strings.Join(texts, "\n")
}

// toolCallsFromOutput extracts tool uses emitted by the assistant.
func toolCallsFromOutput(out *bedrockruntime.ConverseOutput) []coordinator.ToolCall {
	var calls []coordinator.ToolCall

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg.Value.Content == nil {
		return calls
	}

	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok {
			continue
		}

		var input map[string]any
		if err := tu.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
			input = map[string]any{}
		}

		// Normalize deeply instead of just top-level floats.
		normalized, _ := normalizeInput(input).(map[string]any)
		if normalized == nil {
			normalized = map[string]any{}
		}

		calls = append(calls, coordinator.ToolCall{
			Name:      aws.ToString(tu.Value.Name),
			Input:     normalized,
			ToolUseID: aws.ToString(tu.Value.ToolUseId),
		})
	}

	return calls
}

// normalizeInput recursively coerces types for safe downstream use.
func normalizeInput(val any) any {
	switch v := val.(type) {
	case float64:
		// Convert whole numbers like 2.0 to 2.
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
