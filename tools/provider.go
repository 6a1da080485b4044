package tools

import (
	"context"
)

// Provider is a source of tool definitions.
// Remote providers hold a connection that is released by Close.
type Provider interface {
	Name() string
	ListTools(ctx context.Context) (Catalog, error)
	Close() error
}

// LocalProvider serves in-process tool definitions
type LocalProvider struct {
	name    string
	catalog Catalog
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider returns a provider of defs
func NewLocalProvider(name string, defs ...*Definition) *LocalProvider {
	return &LocalProvider{
		name:    name,
		catalog: NewCatalog(defs...),
	}
}

func (p *LocalProvider) Name() string {
	return p.name
}

// ListTools returns a copy of the provider catalog
func (p *LocalProvider) ListTools(_ context.Context) (Catalog, error) {
	return p.catalog.Clone(), nil
}

func (p *LocalProvider) Close() error {
	return nil
}
