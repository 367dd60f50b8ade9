package bypass

// Registry holds all bypass strategies in their fixed execution order.
type Registry struct {
	strategies []Strategy
	byID       map[string]Strategy
}

// NewRegistry creates a registry with all default strategies. Order is
// stable: high-level library bypasses first, transport-level last.
func NewRegistry() *Registry {
	return NewRegistryWithStrategies(
		NewAFNetworkingStrategy(),
		NewURLSessionStrategy(),
		NewTrustKitStrategy(),
		NewCordovaStrategy(),
		NewSecureTransportStrategy(),
		NewSecTrustStrategy(),
		NewBoringSSLStrategy(),
	)
}

// NewRegistryWithStrategies creates a registry with custom strategies
// (for testing).
func NewRegistryWithStrategies(strategies ...Strategy) *Registry {
	r := &Registry{
		byID: make(map[string]Strategy, len(strategies)),
	}
	for _, s := range strategies {
		r.strategies = append(r.strategies, s)
		r.byID[s.ID()] = s
	}
	return r
}

// All returns the strategies in execution order.
func (r *Registry) All() []Strategy {
	return r.strategies
}

// Get returns a strategy by ID.
func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// IDs returns all strategy IDs in execution order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		ids = append(ids, s.ID())
	}
	return ids
}
