package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAISource pulls the model catalog from OpenAI's API using the
// official SDK. The underlying client is safe for concurrent use.
type OpenAISource struct {
	client *openai.Client
}

// NewOpenAISource creates a source authenticated with the given API key.
func NewOpenAISource(apiKey string) (*OpenAISource, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAISource{client: &client}, nil
}

// Name implements Source.
func (s *OpenAISource) Name() string { return "openai" }

// ListModels implements Source by paging through the full catalog.
func (s *OpenAISource) ListModels(ctx context.Context) ([]Schema, error) {
	var out []Schema
	iter := s.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		out = append(out, openAISchema(iter.Current().ID))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list openai models: %w", err)
	}
	return out, nil
}

func openAISchema(id string) Schema {
	return Schema{
		ID:       "openai/" + id,
		Provider: "openai",
		Name:     id,
		Category: openAICategory(id),
	}
}

// openAICategory buckets a model by its id. OpenAI publishes no category
// field, so naming conventions are all there is.
func openAICategory(id string) string {
	switch {
	case strings.Contains(id, "dall-e"), strings.Contains(id, "image"):
		return "image-gen"
	case strings.Contains(id, "whisper"), strings.Contains(id, "tts"), strings.Contains(id, "audio"):
		return "audio"
	case strings.Contains(id, "embedding"):
		return "embedding"
	default:
		return "text-gen"
	}
}
