package handler

import (
	"github.com/hitoshi/alumniportal/internal/session"
)

// RegistryAdapter は session.Registry を SessionStoreFinder に適合させるアダプタ。
type RegistryAdapter struct {
	registry *session.Registry
}

// NewRegistryAdapter はRegistryAdapterを生成する。
func NewRegistryAdapter(registry *session.Registry) *RegistryAdapter {
	return &RegistryAdapter{registry: registry}
}

// Find はブラウザセッションIDのストアを取得する。存在しなければ起動する。
func (a *RegistryAdapter) Find(browserID string) (SessionStore, error) {
	s, err := a.registry.Get(browserID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// compile-time interface check
var (
	_ SessionStoreFinder = (*RegistryAdapter)(nil)
	_ SessionStore       = (*session.Store)(nil)
)
