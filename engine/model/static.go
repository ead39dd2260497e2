package model

import "context"

// StaticSource serves a fixed schema slice. It backs the authoring
// layer's bulk ingest and keeps tests off the network.
type StaticSource struct {
	name    string
	schemas []Schema
}

// NewStaticSource creates a source named "static" over the given schemas.
func NewStaticSource(schemas ...Schema) *StaticSource {
	return &StaticSource{name: "static", schemas: schemas}
}

// NewNamedStaticSource is NewStaticSource with a custom provider name,
// for tests that need to tell sources apart.
func NewNamedStaticSource(name string, schemas ...Schema) *StaticSource {
	return &StaticSource{name: name, schemas: schemas}
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// ListModels implements Source. The returned slice is a copy.
func (s *StaticSource) ListModels(ctx context.Context) ([]Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Schema, len(s.schemas))
	copy(out, s.schemas)
	return out, nil
}
