package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GoogleSource pulls the model catalog from Google's Gemini API using the
// official SDK.
type GoogleSource struct {
	client *genai.Client
}

// NewGoogleSource creates a source authenticated with the given API key.
// Close the source when done to release the client's connections.
func NewGoogleSource(ctx context.Context, apiKey string) (*GoogleSource, error) {
	if apiKey == "" {
		return nil, errors.New("google api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return &GoogleSource{client: client}, nil
}

// Close releases the underlying client.
func (s *GoogleSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Name implements Source.
func (s *GoogleSource) Name() string { return "google" }

// ListModels implements Source by draining the catalog iterator.
func (s *GoogleSource) ListModels(ctx context.Context) ([]Schema, error) {
	var out []Schema
	it := s.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list google models: %w", err)
		}
		out = append(out, googleSchema(m))
	}
	return out, nil
}

func googleSchema(m *genai.ModelInfo) Schema {
	name := strings.TrimPrefix(m.Name, "models/")
	return Schema{
		ID:          "google/" + name,
		Provider:    "google",
		Name:        name,
		Category:    googleCategory(name),
		Description: m.Description,
	}
}

func googleCategory(name string) string {
	switch {
	case strings.Contains(name, "imagen"), strings.Contains(name, "image"):
		return "image-gen"
	case strings.Contains(name, "veo"), strings.Contains(name, "video"):
		return "video-gen"
	case strings.Contains(name, "embedding"), strings.Contains(name, "gecko"):
		return "embedding"
	case strings.Contains(name, "tts"), strings.Contains(name, "audio"):
		return "audio"
	default:
		return "text-gen"
	}
}
