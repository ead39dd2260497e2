package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicSource pulls the model catalog from Anthropic's API using the
// official SDK. The underlying client is safe for concurrent use.
type AnthropicSource struct {
	client *anthropic.Client
}

// NewAnthropicSource creates a source authenticated with the given API
// key.
func NewAnthropicSource(apiKey string) (*AnthropicSource, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicSource{client: &client}, nil
}

// Name implements Source.
func (s *AnthropicSource) Name() string { return "anthropic" }

// ListModels implements Source by paging through the full catalog.
func (s *AnthropicSource) ListModels(ctx context.Context) ([]Schema, error) {
	var out []Schema
	iter := s.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		m := iter.Current()
		out = append(out, anthropicSchema(m.ID, m.DisplayName))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list anthropic models: %w", err)
	}
	return out, nil
}

// anthropicSchema maps a catalog entry. Anthropic ships text models only.
func anthropicSchema(id, displayName string) Schema {
	name := displayName
	if name == "" {
		name = id
	}
	return Schema{
		ID:       "anthropic/" + id,
		Provider: "anthropic",
		Name:     name,
		Category: "text-gen",
	}
}
