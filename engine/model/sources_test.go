package model

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(Schema{ID: "static/a", Provider: "static", Name: "a"})

	if src.Name() != "static" {
		t.Errorf("Name() = %q, expected static", src.Name())
	}

	got, err := src.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "static/a" {
		t.Fatalf("unexpected catalog: %+v", got)
	}

	// The returned slice is a copy.
	got[0].ID = "mutated"
	again, _ := src.ListModels(context.Background())
	if again[0].ID != "static/a" {
		t.Error("catalog leaked internal state")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.ListModels(ctx); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestSourceConstructorsRequireKeys(t *testing.T) {
	if _, err := NewOpenAISource(""); err == nil {
		t.Error("NewOpenAISource accepted an empty key")
	}
	if _, err := NewAnthropicSource(""); err == nil {
		t.Error("NewAnthropicSource accepted an empty key")
	}
	if _, err := NewGoogleSource(context.Background(), ""); err == nil {
		t.Error("NewGoogleSource accepted an empty key")
	}
}

func TestOpenAICategory(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"gpt-4o", "text-gen"},
		{"dall-e-3", "image-gen"},
		{"gpt-image-1", "image-gen"},
		{"whisper-1", "audio"},
		{"tts-1-hd", "audio"},
		{"text-embedding-3-small", "embedding"},
		{"o3-mini", "text-gen"},
	}
	for _, tt := range tests {
		if got := openAICategory(tt.id); got != tt.want {
			t.Errorf("openAICategory(%s) = %s, expected %s", tt.id, got, tt.want)
		}
	}
}

func TestOpenAISchema(t *testing.T) {
	s := openAISchema("gpt-4o")
	if s.ID != "openai/gpt-4o" || s.Provider != "openai" || s.Name != "gpt-4o" {
		t.Errorf("unexpected schema: %+v", s)
	}
}

func TestAnthropicSchema(t *testing.T) {
	s := anthropicSchema("claude-sonnet-4-20250514", "Claude Sonnet 4")
	if s.ID != "anthropic/claude-sonnet-4-20250514" {
		t.Errorf("id = %s", s.ID)
	}
	if s.Name != "Claude Sonnet 4" {
		t.Errorf("name = %s, expected the display name", s.Name)
	}
	if s.Category != "text-gen" {
		t.Errorf("category = %s", s.Category)
	}

	// Missing display names fall back to the id.
	if s := anthropicSchema("claude-x", ""); s.Name != "claude-x" {
		t.Errorf("fallback name = %s", s.Name)
	}
}

func TestGoogleSchema(t *testing.T) {
	s := googleSchema(&genai.ModelInfo{
		Name:        "models/gemini-1.5-flash",
		Description: "Fast multimodal model",
	})
	if s.ID != "google/gemini-1.5-flash" {
		t.Errorf("id = %s, expected the models/ prefix stripped", s.ID)
	}
	if s.Description != "Fast multimodal model" {
		t.Errorf("description = %s", s.Description)
	}

	tests := []struct {
		name string
		want string
	}{
		{"gemini-1.5-pro", "text-gen"},
		{"imagen-3.0-generate", "image-gen"},
		{"veo-2", "video-gen"},
		{"text-embedding-004", "embedding"},
		{"embedding-gecko-001", "embedding"},
		{"gemini-2.5-flash-tts", "audio"},
	}
	for _, tt := range tests {
		if got := googleCategory(tt.name); got != tt.want {
			t.Errorf("googleCategory(%s) = %s, expected %s", tt.name, got, tt.want)
		}
	}
}
