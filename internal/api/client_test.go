package api

import (
	"errors"
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{
		APIKey: "test-key-123",
		Model:  anthropic.ModelClaudeHaiku4_5_20251001,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeHaiku4_5_20251001 {
		t.Errorf("Model = %q, want %q", client.Model(), anthropic.ModelClaudeHaiku4_5_20251001)
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
	if client.maxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", client.maxTokens, DefaultMaxTokens)
	}
}

func TestNewClient_WithEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-test-key")

	client, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Default model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	os.Unsetenv("ANTHROPIC_API_KEY")

	_, err := NewClient(ClientConfig{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestBedrockModel(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want anthropic.Model
	}{
		{anthropic.ModelClaudeSonnet4_20250514, "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{anthropic.ModelClaudeOpus4_1_20250805, "us.anthropic.claude-opus-4-1-20250805-v1:0"},
		{"us.anthropic.claude-sonnet-4-20250514-v1:0", "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"custom-model", "custom-model"},
	}

	for _, tt := range tests {
		if got := BedrockModel(tt.in); got != tt.want {
			t.Errorf("BedrockModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewClient_Bedrock(t *testing.T) {
	if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
		t.Skip("AWS_REGION not set, skipping Bedrock test")
	}

	client, err := NewClient(ClientConfig{UseAWSBedrock: true, AWSRegion: "us-west-2"})
	if err != nil {
		t.Fatalf("NewClient with Bedrock failed: %v", err)
	}
	if client.Model() != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("Model = %q, want bedrock profile", client.Model())
	}
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(100, 50)
	tracker.Add(200, 100)

	input, output := tracker.Total()
	if input != 300 || output != 150 {
		t.Errorf("Total = %d/%d, want 300/150", input, output)
	}
	if tracker.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", tracker.Calls())
	}
}

func TestTokenTracker_Cost(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(1_000_000, 1_000_000)

	if cost := tracker.Cost(); cost != 18.0 {
		t.Errorf("Cost = %f, want 18", cost)
	}
}
