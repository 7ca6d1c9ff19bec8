package grocerybot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// CoordinationLogger is the interface for coordinator turn logging.
type CoordinationLogger interface {
	LogTurn(turn TurnLog) error
}

// NewCoordinationLogFilePath returns a file path based on a cleaned up model name or id to make it easier to identify specific logs produced with various models.
func NewCoordinationLogFilePath(model string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.ReplaceAll(strings.ToLower(model), ":", "_"),
	)
}

// TurnLog represents a single turn in the agentic loop: one model call plus
// the tool executions it requested.
type TurnLog struct {
	Turn         int           `json:"turn"`
	Timestamp    time.Time     `json:"timestamp"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Text         string        `json:"text,omitempty"`
	ToolCalls    []ToolCallLog `json:"tool_calls,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Error        string        `json:"error,omitempty"`
}

// ToolCallLog represents a tool execution within a turn
type ToolCallLog struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// FileCoordinationLogger logs to a file, accumulating turns and flushing at the end
type FileCoordinationLogger struct {
	turns  []TurnLog
	writer io.Writer
}

// NewFileCoordinationLogger creates a new file-based coordination logger
func NewFileCoordinationLogger(writer io.Writer) *FileCoordinationLogger {
	return &FileCoordinationLogger{
		turns:  make([]TurnLog, 0),
		writer: writer,
	}
}

// LogTurn logs a turn to the buffer (does not flush immediately)
func (fcl *FileCoordinationLogger) LogTurn(turn TurnLog) error {
	fcl.turns = append(fcl.turns, turn)
	return nil
}

// Flush flushes all accumulated turns to the writer
func (fcl *FileCoordinationLogger) Flush() error {
	if fcl.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"coordination_session": map[string]any{
			"timestamp": time.Now(),
			"turns":     fcl.turns,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal coordination log: %w", err)
	}

	if _, err := fcl.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write coordination log: %w", err)
	}

	// Clear the buffer after successful write
	fcl.turns = fcl.turns[:0]
	return nil
}

// NoOpCoordinationLogger is a logger that discards all log entries
type NoOpCoordinationLogger struct{}

// NewNoOpCoordinationLogger creates a new no-op coordination logger
func NewNoOpCoordinationLogger() *NoOpCoordinationLogger {
	return &NoOpCoordinationLogger{}
}

// LogTurn discards the turn log (no-op)
func (nop *NoOpCoordinationLogger) LogTurn(turn TurnLog) error {
	return nil
}

// StdoutCoordinationLogger logs each turn as a JSON line to stdout
type StdoutCoordinationLogger struct{}

// NewStdoutCoordinationLogger creates a new stdout-based coordination logger
func NewStdoutCoordinationLogger() *StdoutCoordinationLogger {
	return &StdoutCoordinationLogger{}
}

// LogTurn writes the turn as a JSON line to os.Stdout
func (l *StdoutCoordinationLogger) LogTurn(turn TurnLog) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
