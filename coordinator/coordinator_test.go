package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"grocerybot/store"
	"grocerybot/tools"
)

// testStoreSeq gives each test store a distinct shared-cache database name.
// A plain ":memory:" DSN gives every pooled connection its own empty
// database, so a Store returned by Begin can miss the migrated schema.
var testStoreSeq atomic.Int64

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:coordtest%d?mode=memory&cache=shared", testStoreSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate())
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// step is one scripted model reply (or failure).
type step struct {
	res Response
	err error
}

// scriptedLLM replays steps in order and repeats the last one forever,
// recording every prompt and option set it was invoked with.
type scriptedLLM struct {
	steps   []step
	calls   int
	prompts []Prompt
	opts    []CallOptions
}

func (s *scriptedLLM) Invoke(_ context.Context, prompt Prompt, opts CallOptions) (Response, error) {
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].res, s.steps[i].err
}

func (s *scriptedLLM) Model() string { return "scripted-model" }

// fakeTool is a canned tool for loop tests.
type fakeTool struct {
	name  string
	title string
	out   map[string]any
	err   error
	runs  int
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Title() string { return f.title }

func (f *fakeTool) Description() string { return f.title }

func (f *fakeTool) InputSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "object"} }

func (f *fakeTool) OutputSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "object"} }

func (f *fakeTool) Run(context.Context, map[string]any) (map[string]any, error) {
	f.runs++
	return f.out, f.err
}

func registryOf(ts ...tools.Tool) tools.Registry {
	reg := tools.Registry{}
	for _, tl := range ts {
		reg[tl.Name()] = tl
	}
	return reg
}

func newTestCoordinator(t *testing.T, st *store.Store, llm LLMClient, reg tools.Registry, cfg Config) *Coordinator {
	t.Helper()
	builder := NewContextBuilder(st, nil, nil, quietLogger())
	return NewCoordinator(llm, reg, builder, st, cfg, nil, quietLogger())
}

func toolCallResponse(calls ...ToolCall) Response {
	return Response{ToolCalls: calls, StopReason: "tool_use", Usage: Usage{InputTokens: 10, OutputTokens: 5}}
}

func textResponse(text string) Response {
	return Response{Content: text, StopReason: "end_turn", Usage: Usage{InputTokens: 10, OutputTokens: 5}}
}

func TestRunPlainReply(t *testing.T) {
	st := newTestStore(t)
	llm := &scriptedLLM{steps: []step{{res: textResponse("Nothing on the list yet.")}}}
	coord := newTestCoordinator(t, st, llm, registryOf(), Config{})

	res, err := coord.Run(context.Background(), "Erich", "what's on the list?")
	require.NoError(t, err)
	assert.Equal(t, "Nothing on the list yet.", res.Text)
	assert.Equal(t, store.ConversationSuccess, res.Status)
	assert.Equal(t, "scripted-model", res.Model)
	assert.Equal(t, 1, res.Turns)
	assert.False(t, res.HitLimit)
	assert.Equal(t, 10, res.InputTokens)
	assert.NotNil(t, res.ContextSnapshot)
}

func TestRunTerminatesWithinTurnBudget(t *testing.T) {
	st := newTestStore(t)
	ping := &fakeTool{name: "ping", title: "Ping", out: map[string]any{"success": true}}
	// A model that asks for a tool on every call never reaches end_turn on
	// its own; the loop must cut it off and still produce text.
	llm := &scriptedLLM{steps: []step{{res: toolCallResponse(ToolCall{Name: "ping", ToolUseID: "tu_1"})}}}
	coord := newTestCoordinator(t, st, llm, registryOf(ping), Config{MaxTurns: 5, CheckpointTurn: 3})

	res, err := coord.Run(context.Background(), "Lauren", "keep going")
	require.NoError(t, err)
	assert.Equal(t, 6, llm.calls, "max turns plus one summary call")
	assert.Equal(t, 5, res.Turns)
	assert.True(t, res.HitLimit)
	assert.NotEmpty(t, res.Text)
	assert.Equal(t, 5, ping.runs)

	// The summary call runs on a tighter budget than a normal turn.
	last := llm.opts[len(llm.opts)-1]
	assert.Less(t, last.MaxTokens, llm.opts[0].MaxTokens)
	assert.Less(t, last.Timeout, llm.opts[0].Timeout)

	// The last prompt carries the wrap-up instruction.
	lastPrompt := llm.prompts[len(llm.prompts)-1]
	finalMsg := lastPrompt.Messages[len(lastPrompt.Messages)-1]
	assert.Contains(t, finalMsg.Content.Join(), "Tool-call limit reached")
}

func TestRunSummaryTextAfterLimit(t *testing.T) {
	st := newTestStore(t)
	ping := &fakeTool{name: "ping", title: "Ping", out: map[string]any{"success": true}}
	steps := []step{
		{res: toolCallResponse(ToolCall{Name: "ping", ToolUseID: "tu_1"})},
		{res: toolCallResponse(ToolCall{Name: "ping", ToolUseID: "tu_2"})},
		{res: textResponse("Got through part of it; the rest is still pending.")},
	}
	llm := &scriptedLLM{steps: steps}
	coord := newTestCoordinator(t, st, llm, registryOf(ping), Config{MaxTurns: 2, CheckpointTurn: 1})

	res, err := coord.Run(context.Background(), "Erich", "do everything")
	require.NoError(t, err)
	assert.True(t, res.HitLimit)
	assert.Equal(t, "Got through part of it; the rest is still pending.", res.Text)
	assert.Equal(t, store.ConversationSuccess, res.Status)
}

func TestRunPartialToolFailure(t *testing.T) {
	st := newTestStore(t)
	tx, err := st.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	addItem := tools.NewAddItem(tx)
	explode := &explodingTool{st: tx}
	reg := registryOf(addItem, explode)

	// One model turn requests three tools; the middle one writes and then
	// fails. Its write must roll back while the neighbors' writes survive.
	steps := []step{
		{res: toolCallResponse(
			ToolCall{Name: addItem.Name(), ToolUseID: "tu_1", Input: map[string]any{"name": "milk", "added_by": "Erich"}},
			ToolCall{Name: explode.Name(), ToolUseID: "tu_2", Input: map[string]any{}},
			ToolCall{Name: addItem.Name(), ToolUseID: "tu_3", Input: map[string]any{"name": "bread", "added_by": "Erich"}},
		)},
		{res: textResponse("Added milk and bread; one step failed.")},
	}
	llm := &scriptedLLM{steps: steps}
	builder := NewContextBuilder(st, nil, nil, quietLogger())
	coord := NewCoordinator(llm, reg, builder, tx, Config{}, nil, quietLogger())

	res, err := coord.Run(context.Background(), "Erich", "add milk and bread")
	require.NoError(t, err)
	assert.Equal(t, "Added milk and bread; one step failed.", res.Text)

	list, err := tx.GetOrCreateActiveList()
	require.NoError(t, err)
	items, err := tx.ListItems(list.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// The failing tool's write was undone by the savepoint rollback.
	_, err = tx.FindIngredient("doomed")
	assert.Error(t, err)

	// The model saw the failure as an error-flagged tool_result.
	second := llm.prompts[1]
	resultMsg := second.Messages[len(second.Messages)-1]
	require.Len(t, resultMsg.Content, 3)
	assert.False(t, resultMsg.Content[0].IsError)
	assert.True(t, resultMsg.Content[1].IsError)
	assert.False(t, resultMsg.Content[2].IsError)
	assert.Contains(t, resultMsg.Content[1].Data["error"], "exploded")
}

func TestRunUnknownToolReportedToModel(t *testing.T) {
	st := newTestStore(t)
	steps := []step{
		{res: toolCallResponse(ToolCall{Name: "no_such_tool", ToolUseID: "tu_1"})},
		{res: textResponse("That tool doesn't exist, sorry.")},
	}
	llm := &scriptedLLM{steps: steps}
	coord := newTestCoordinator(t, st, llm, registryOf(), Config{})

	res, err := coord.Run(context.Background(), "Lauren", "hm")
	require.NoError(t, err)
	assert.Equal(t, "That tool doesn't exist, sorry.", res.Text)

	second := llm.prompts[1]
	resultMsg := second.Messages[len(second.Messages)-1]
	require.Len(t, resultMsg.Content, 1)
	assert.True(t, resultMsg.Content[0].IsError)
}

func TestRunModelErrorNoProgress(t *testing.T) {
	st := newTestStore(t)
	llm := &scriptedLLM{steps: []step{{err: errors.New("model endpoint unavailable")}}}
	coord := newTestCoordinator(t, st, llm, registryOf(), Config{})

	res, err := coord.Run(context.Background(), "Erich", "add milk")
	require.Error(t, err)
	assert.Equal(t, ApologyResponse, res.Text)
	assert.Equal(t, store.ConversationAPIError, res.Status)
	assert.Equal(t, "model endpoint unavailable", res.Err)
}

func TestRunModelErrorAfterToolSuccess(t *testing.T) {
	st := newTestStore(t)
	ping := &fakeTool{name: "ping", title: "Check connectivity", out: map[string]any{"success": true}}
	steps := []step{
		{res: toolCallResponse(ToolCall{Name: "ping", ToolUseID: "tu_1"})},
		{err: errors.New("model endpoint unavailable")},
	}
	llm := &scriptedLLM{steps: steps}
	coord := newTestCoordinator(t, st, llm, registryOf(ping), Config{})

	// Work already landed, so the caller should commit: nil error, a
	// synthesized confirmation, and the failure recorded on the status.
	res, err := coord.Run(context.Background(), "Erich", "check")
	require.NoError(t, err)
	assert.Equal(t, "Completed: Check connectivity.", res.Text)
	assert.Equal(t, store.ConversationAPIError, res.Status)
	assert.Equal(t, "model endpoint unavailable", res.Err)
}

func TestRunEmptyFinalTextFallsBackToCompleted(t *testing.T) {
	st := newTestStore(t)
	ping := &fakeTool{name: "ping", title: "Ping", out: map[string]any{"success": true}}
	pong := &fakeTool{name: "pong", title: "Pong", out: map[string]any{"success": true}}
	steps := []step{
		{res: toolCallResponse(
			ToolCall{Name: "ping", ToolUseID: "tu_1"},
			ToolCall{Name: "pong", ToolUseID: "tu_2"},
			ToolCall{Name: "ping", ToolUseID: "tu_3"},
		)},
		{res: textResponse("  ")},
	}
	llm := &scriptedLLM{steps: steps}
	coord := newTestCoordinator(t, st, llm, registryOf(ping, pong), Config{})

	res, err := coord.Run(context.Background(), "Lauren", "go")
	require.NoError(t, err)
	assert.Equal(t, "Completed: Ping, Pong.", res.Text)
}

func TestRunCheckpointNoteInjected(t *testing.T) {
	st := newTestStore(t)
	ping := &fakeTool{name: "ping", title: "Ping", out: map[string]any{"success": true}}
	steps := []step{
		{res: toolCallResponse(ToolCall{Name: "ping", ToolUseID: "tu_1"})},
		{res: toolCallResponse(ToolCall{Name: "ping", ToolUseID: "tu_2"})},
		{res: textResponse("All wrapped up.")},
	}
	llm := &scriptedLLM{steps: steps}
	coord := newTestCoordinator(t, st, llm, registryOf(ping), Config{MaxTurns: 6, CheckpointTurn: 2})

	res, err := coord.Run(context.Background(), "Erich", "go")
	require.NoError(t, err)
	assert.Equal(t, "All wrapped up.", res.Text)

	// The prompt for turn 3 ends with the checkpoint nudge.
	third := llm.prompts[2]
	lastMsg := third.Messages[len(third.Messages)-1]
	assert.Equal(t, "user", lastMsg.Role)
	assert.Contains(t, lastMsg.Content.Join(), "tool-call budget")

	// The prompt for turn 2 does not.
	second := llm.prompts[1]
	assert.NotContains(t, second.Messages[len(second.Messages)-1].Content.Join(), "tool-call budget")
}

func TestTruncateResultKeepsControlFields(t *testing.T) {
	data := map[string]any{
		"success":    true,
		"list_id":    float64(7),
		"item_count": float64(900),
		"items":      strings.Repeat("x", 20000),
	}
	out := truncateResult(data, 1000)
	assert.Equal(t, true, out["truncated"])
	assert.Greater(t, out["original_bytes"], 1000)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(7), out["list_id"])
	assert.NotContains(t, out, "items")

	small := map[string]any{"success": true}
	assert.Equal(t, small, truncateResult(small, 1000))
}

func TestFallbackTextDedupesTitles(t *testing.T) {
	assert.Equal(t, ApologyResponse, fallbackText(nil))
	got := fallbackText([]string{"Add item", "Add item", "Clear list"})
	assert.Equal(t, "Completed: Add item, Clear list.", got)
}

// explodingTool writes a row and then fails, exercising savepoint rollback.
type explodingTool struct {
	st *store.Store
}

func (e *explodingTool) Name() string { return "explode" }

func (e *explodingTool) Title() string { return "Explode" }

func (e *explodingTool) Description() string { return "writes then fails" }

func (e *explodingTool) InputSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "object"} }

func (e *explodingTool) OutputSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "object"} }

func (e *explodingTool) Run(context.Context, map[string]any) (map[string]any, error) {
	if _, _, err := e.st.GetOrCreateIngredient("doomed"); err != nil {
		return nil, err
	}
	return nil, errors.New("exploded")
}
