package service

import (
	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
)

// ProviderRegistry resolves a client-supplied model string into a
// canonical ModelRef plus the ProviderEndpoint to invoke it through. It
// never mutates the configuration it reads.
type ProviderRegistry struct {
	store *routeconfig.Store
}

// NewProviderRegistry wraps a config store.
func NewProviderRegistry(store *routeconfig.Store) *ProviderRegistry {
	return &ProviderRegistry{store: store}
}

// Resolve implements spec section 4.1's resolution chain: explicit
// provider/model prefix, else the model→provider map, else the
// implicit upstream provider.
func (r *ProviderRegistry) Resolve(modelRef string) (models.ModelRef, models.ProviderEndpoint, error) {
	doc := r.store.Get()

	providerID, model, hasProvider := models.ParseModelRef(modelRef)
	if !hasProvider {
		providerID = doc.ProviderForModel(model)
	}

	endpoint, ok := doc.Endpoint(providerID)
	if !ok {
		return models.ModelRef{}, models.ProviderEndpoint{}, &ProviderMissingError{ProviderID: providerID}
	}

	canonicalProvider := providerID
	if canonicalProvider == "" {
		canonicalProvider = "upstream"
	}
	return models.ModelRef{ProviderID: canonicalProvider, Model: model}, endpoint, nil
}

// ResolveRef resolves an already-split ModelRef (used by the
// orchestrator when iterating tier-configured candidates, which are
// pre-resolved at tier-load time).
func (r *ProviderRegistry) ResolveRef(ref models.ModelRef) (models.ProviderEndpoint, error) {
	doc := r.store.Get()
	endpoint, ok := doc.Endpoint(ref.ProviderID)
	if !ok {
		return models.ProviderEndpoint{}, &ProviderMissingError{ProviderID: ref.ProviderID}
	}
	return endpoint, nil
}
