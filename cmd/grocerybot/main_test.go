package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerybot"
	"grocerybot/coordinator/anthropic"
	"grocerybot/coordinator/bedrock"
)

func TestNewLLMClientsAnthropic(t *testing.T) {
	cfg := grocerybot.Config{
		Agent: grocerybot.AgentConfig{LLMBackend: "anthropic"},
		Anthropic: grocerybot.AnthropicConfig{
			APIKey:          "sk-test",
			Model:           "claude-sonnet-4-5-20250929",
			ClassifierModel: "claude-haiku-4-5-20251001",
		},
	}

	llm, classifier, err := newLLMClients(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &anthropic.LLMClient{}, llm)
	require.IsType(t, &anthropic.LLMClient{}, classifier)
	assert.Equal(t, "claude-sonnet-4-5-20250929", llm.Model())
	assert.Equal(t, "claude-haiku-4-5-20251001", classifier.Model())
}

func TestNewLLMClientsAnthropicRequiresKey(t *testing.T) {
	cfg := grocerybot.Config{
		Agent: grocerybot.AgentConfig{LLMBackend: "anthropic"},
	}

	_, _, err := newLLMClients(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestNewLLMClientsBedrock(t *testing.T) {
	cfg := grocerybot.Config{
		Agent: grocerybot.AgentConfig{LLMBackend: "bedrock"},
		Bedrock: grocerybot.BedrockConfig{
			ModelID:           "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
			ClassifierModelID: "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		},
	}

	llm, classifier, err := newLLMClients(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &bedrock.LLMClient{}, llm)
	require.IsType(t, &bedrock.LLMClient{}, classifier)
	assert.Equal(t, "us.anthropic.claude-sonnet-4-5-20250929-v1:0", llm.Model())
	assert.Equal(t, "us.anthropic.claude-haiku-4-5-20251001-v1:0", classifier.Model())
}

func TestNewLLMClientsUnknownBackend(t *testing.T) {
	cfg := grocerybot.Config{
		Agent: grocerybot.AgentConfig{LLMBackend: "llamafile"},
	}

	_, _, err := newLLMClients(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llamafile")
}
