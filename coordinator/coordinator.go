package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"grocerybot"
	"grocerybot/store"
)

const (
	defaultMaxTurns       = 15
	defaultCheckpointTurn = 10

	turnMaxTokens    = 2000
	turnTimeout      = 30 * time.Second
	summaryMaxTokens = 500
	summaryTimeout   = 15 * time.Second

	// toolResultByteBudget caps a single serialized tool result before it
	// enters the message history.
	toolResultByteBudget = 8000

	// ApologyResponse is the canned reply when no model call produced text
	// and no tool succeeded.
	ApologyResponse = "Sorry, I'm having trouble thinking right now. Try again in a moment."
)

// checkpointNote is injected at the configured turn so the model surfaces
// progress before the budget runs out.
const checkpointNote = "[system note] You have used most of your tool-call budget for this message. Summarize what you've done so far and either finish up or explain to the user what's still left."

// TxStore is the transactional slice of the store the loop needs: a
// savepoint per tool call so one failed tool rolls back alone.
type TxStore interface {
	SavePoint(name string) error
	RollbackTo(name string) error
}

// Config bounds one loop run.
type Config struct {
	MaxTurns       int
	CheckpointTurn int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.CheckpointTurn <= 0 || c.CheckpointTurn >= c.MaxTurns {
		c.CheckpointTurn = defaultCheckpointTurn
	}
	return c
}

// Result is everything the caller persists on the conversation row.
type Result struct {
	Text            string
	Status          store.ConversationStatus
	Model           string
	Turns           int
	InputTokens     int
	OutputTokens    int
	HitLimit        bool
	Err             string
	ContextSnapshot map[string]any
}

// Coordinator drives the agentic tool-use loop for one user message: model
// call, tool execution, repeat, bounded by the turn budget, always ending
// with user-visible text.
type Coordinator struct {
	llm     LLMClient
	tools   grocerybot.ToolProvider
	builder *ContextBuilder
	tx      TxStore
	cfg     Config
	logger  grocerybot.CoordinationLogger
	slogger *slog.Logger
}

func NewCoordinator(llm LLMClient, tools grocerybot.ToolProvider, builder *ContextBuilder, tx TxStore, cfg Config, logger grocerybot.CoordinationLogger, slogger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = grocerybot.NewNoOpCoordinationLogger()
	}
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Coordinator{
		llm:     llm,
		tools:   tools,
		builder: builder,
		tx:      tx,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		slogger: slogger,
	}
}

// Run executes the loop for one user message. The returned Result always
// carries user-visible text. A non-nil error means no durable progress was
// made and the caller should roll the transaction back; with a nil error
// the caller commits, even if Result.Status records a degraded outcome.
func (c *Coordinator) Run(ctx context.Context, user, message string) (Result, error) {
	ctx, span := otel.Tracer(grocerybot.TracerNameCoordinator).Start(ctx, "Coordinator.Run")
	defer span.End()

	result := Result{Status: store.ConversationSuccess, Model: c.llm.Model()}

	contextBlock, snapshot, err := c.builder.Build(ctx, user, message)
	if err != nil {
		result.Text = ApologyResponse
		result.Status = store.ConversationAPIError
		result.Err = err.Error()
		return result, fmt.Errorf("building context: %w", err)
	}
	result.ContextSnapshot = snapshot

	prompt := NewPrompt(systemPrompt, contextBlock+"\n\n"+message, c.tools)

	// Titles of tools that succeeded, for the fallback confirmation.
	var completed []string

	for turn := 1; turn <= c.cfg.MaxTurns; turn++ {
		result.Turns = turn
		turnLog := grocerybot.TurnLog{Turn: turn, Timestamp: time.Now()}

		c.slogger.Info("coordinator: model turn",
			"turn", turn,
			"messages", len(prompt.Messages),
			"tools", len(prompt.Tools),
		)

		res, err := c.llm.Invoke(ctx, prompt, CallOptions{MaxTokens: turnMaxTokens, Timeout: turnTimeout})
		if err != nil {
			turnLog.Error = err.Error()
			c.logTurn(turnLog)
			return c.failedTurn(result, completed, err)
		}
		result.InputTokens += res.Usage.InputTokens
		result.OutputTokens += res.Usage.OutputTokens
		turnLog.InputTokens = res.Usage.InputTokens
		turnLog.OutputTokens = res.Usage.OutputTokens
		turnLog.StopReason = res.StopReason
		turnLog.Text = res.Content

		if len(res.ToolCalls) == 0 {
			// End of turn. A model occasionally closes with empty text
			// after a run of tool calls; fall back to a synthesized
			// confirmation rather than silence.
			text := strings.TrimSpace(res.Content)
			if text == "" {
				text = fallbackText(completed)
			}
			result.Text = text
			c.logTurn(turnLog)
			return result, nil
		}

		// Record the assistant turn, then execute the requested tools in
		// the order the model listed them.
		assistantMsg := Message{Role: "assistant"}
		if res.Content != "" {
			assistantMsg.Content = append(assistantMsg.Content, MessagePart{Type: "text", Text: res.Content})
		}
		for _, call := range res.ToolCalls {
			assistantMsg.Content = append(assistantMsg.Content, MessagePart{
				Type:      "tool_use",
				ToolUseID: call.ToolUseID,
				ToolName:  call.Name,
				Data:      call.Input,
			})
		}
		prompt.Messages = append(prompt.Messages, assistantMsg)

		var toolResults []ToolResult
		for i, call := range res.ToolCalls {
			output, title, terr := c.runTool(ctx, turn, i, call)
			callLog := grocerybot.ToolCallLog{Name: call.Name, Input: call.Input, Output: output}
			if terr != nil {
				callLog.Error = terr.Error()
				toolResults = append(toolResults, ToolResult{
					ToolUseID: call.ToolUseID,
					ToolName:  call.Name,
					Data:      map[string]any{"error": terr.Error()},
					IsError:   true,
				})
			} else {
				completed = append(completed, title)
				toolResults = append(toolResults, ToolResult{
					ToolUseID: call.ToolUseID,
					ToolName:  call.Name,
					Data:      truncateResult(output, toolResultByteBudget),
				})
			}
			turnLog.ToolCalls = append(turnLog.ToolCalls, callLog)
		}
		prompt.Messages = append(prompt.Messages, NewToolResultMessage(toolResults))

		if turn == c.cfg.CheckpointTurn {
			prompt.Messages = append(prompt.Messages, Message{
				Role:    "user",
				Content: MessageParts{{Type: "text", Text: checkpointNote}},
			})
		}
		c.logTurn(turnLog)
	}

	// Turn budget exhausted: one last bounded call for a closing summary.
	result.HitLimit = true
	c.slogger.Warn("coordinator: turn limit reached, requesting summary", "max_turns", c.cfg.MaxTurns)

	prompt.Messages = append(prompt.Messages, Message{
		Role:    "user",
		Content: MessageParts{{Type: "text", Text: "[system note] Tool-call limit reached. Reply now with a short summary of what was done and anything left unfinished. Do not call any more tools."}},
	})
	summary, err := c.llm.Invoke(ctx, prompt, CallOptions{MaxTokens: summaryMaxTokens, Timeout: summaryTimeout})
	if err == nil {
		result.InputTokens += summary.Usage.InputTokens
		result.OutputTokens += summary.Usage.OutputTokens
	}
	text := ""
	if err == nil {
		text = strings.TrimSpace(summary.Content)
	} else {
		result.Err = err.Error()
	}
	if text == "" {
		text = fallbackText(completed)
	}
	result.Text = text
	return result, nil
}

// runTool dispatches one call inside its own savepoint. On any failure the
// savepoint is rolled back so earlier tools' writes in this message
// survive; the error is reported back to the model as the tool's result.
func (c *Coordinator) runTool(ctx context.Context, turn, idx int, call ToolCall) (map[string]any, string, error) {
	tool, err := c.tools.GetTool(call.Name)
	if err != nil {
		c.slogger.Warn("coordinator: unknown tool requested", "name", call.Name)
		return nil, "", err
	}

	sp := fmt.Sprintf("tool_%d_%d", turn, idx)
	if c.tx != nil {
		if err := c.tx.SavePoint(sp); err != nil {
			return nil, "", fmt.Errorf("savepoint: %w", err)
		}
	}

	output, err := tool.Run(ctx, call.Input)
	if err != nil {
		c.slogger.Warn("coordinator: tool failed", "name", call.Name, "error", err)
		if c.tx != nil {
			if rbErr := c.tx.RollbackTo(sp); rbErr != nil {
				c.slogger.Error("coordinator: savepoint rollback failed", "savepoint", sp, "error", rbErr)
			}
		}
		return nil, "", err
	}

	c.slogger.Info("coordinator: tool succeeded", "name", call.Name)
	return output, tool.Title(), nil
}

// failedTurn handles a model-endpoint failure. If tools already succeeded
// this message, their writes are worth keeping: synthesize a confirmation
// and let the caller commit. Otherwise surface the apology and a non-nil
// error so the caller rolls back.
func (c *Coordinator) failedTurn(result Result, completed []string, err error) (Result, error) {
	result.Status = store.ConversationAPIError
	result.Err = err.Error()
	c.slogger.Error("coordinator: model call failed", "error", err, "completed_tools", len(completed))

	if len(completed) > 0 {
		result.Text = fallbackText(completed)
		return result, nil
	}
	result.Text = ApologyResponse
	return result, fmt.Errorf("model call failed with no completed tools: %w", err)
}

// fallbackText builds the "Completed: ..." confirmation from the titles of
// tools that ran successfully.
func fallbackText(completed []string) string {
	if len(completed) == 0 {
		return ApologyResponse
	}
	seen := make(map[string]bool, len(completed))
	titles := make([]string, 0, len(completed))
	for _, t := range completed {
		if !seen[t] {
			seen[t] = true
			titles = append(titles, t)
		}
	}
	return "Completed: " + strings.Join(titles, ", ") + "."
}

// truncateResult enforces the per-result byte budget. Oversized results
// keep only the high-value fields the model needs for control flow.
func truncateResult(data map[string]any, budget int) map[string]any {
	raw, err := json.Marshal(data)
	if err != nil || len(raw) <= budget {
		return data
	}

	kept := map[string]any{
		"truncated":      true,
		"original_bytes": len(raw),
	}
	for key, value := range data {
		switch {
		case key == "success" || key == "error" || key == "message" || key == "count":
			kept[key] = value
		case key == "id" || strings.HasSuffix(key, "_id") || strings.HasSuffix(key, "_count"):
			kept[key] = value
		}
	}
	return kept
}

func (c *Coordinator) logTurn(turn grocerybot.TurnLog) {
	if err := c.logger.LogTurn(turn); err != nil {
		c.slogger.Error("failed to log coordination turn", "error", err, "turn", turn.Turn)
	}
}
