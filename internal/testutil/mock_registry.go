package testutil

import (
	"fmt"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.AdapterRegistry = (*MockRegistry)(nil)

// MockRegistry resolves chain codes to preconfigured adapters.
type MockRegistry struct {
	adapters map[string]outbound.ChainAdapter
	order    []string
}

// NewMockRegistry registers adapters by their chain code.
func NewMockRegistry(adapters ...outbound.ChainAdapter) *MockRegistry {
	r := &MockRegistry{adapters: make(map[string]outbound.ChainAdapter)}
	for _, a := range adapters {
		code := a.Chain().Code
		r.adapters[code] = a
		r.order = append(r.order, code)
	}
	return r
}

func (r *MockRegistry) Adapter(chainCode string) (outbound.ChainAdapter, error) {
	a, ok := r.adapters[chainCode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnsupportedChain, chainCode)
	}
	return a, nil
}

func (r *MockRegistry) Chains() []entity.Chain {
	out := make([]entity.Chain, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.adapters[code].Chain())
	}
	return out
}
