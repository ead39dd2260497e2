// Package model caches the catalog of AI model schemas that node handlers
// consult for parameter defaults and cost hints.
//
// Schemas arrive from two directions: the authoring layer pushes its
// curated catalog in bulk (StaticSource via models:sync), and provider
// sources pull live catalogs from the official SDKs when API keys are
// configured. The Cache merges both and serves lookups, listing, and
// fuzzy search.
package model

import (
	"context"
	"errors"
)

// ErrSchemaNotFound is returned when no schema exists for an id, even
// after refreshing from the configured sources.
var ErrSchemaNotFound = errors.New("model schema not found")

// Schema describes one runnable model: identity, pricing, and the
// parameter surface a node handler exposes for it.
type Schema struct {
	// ID is the cache key, namespaced by provider ("openai/gpt-4o").
	ID string `json:"id"`

	// Provider names the owning catalog ("openai", "anthropic", "google",
	// "static").
	Provider string `json:"provider"`

	// Name is the provider-local model name.
	Name string `json:"name"`

	// Category groups models by what they produce: text-gen, image-gen,
	// video-gen, audio, embedding.
	Category string `json:"category"`

	// Description is optional human-readable detail.
	Description string `json:"description,omitempty"`

	// CostPerRun is the provider's indicative cost per execution in USD.
	// Zero when the provider does not publish one.
	CostPerRun float64 `json:"costPerRun,omitempty"`

	// Params carries the declarative parameter schema for the authoring
	// UI. Opaque to the engine.
	Params map[string]interface{} `json:"params,omitempty"`
}

// Source lists a provider's current model catalog.
type Source interface {
	// Name identifies the provider this source pulls from.
	Name() string

	// ListModels returns the catalog. Implementations respect ctx and
	// surface provider errors unwrapped enough for errors.Is checks.
	ListModels(ctx context.Context) ([]Schema, error)
}
