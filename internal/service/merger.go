package service

import (
	"encoding/json"

	"github.com/user/routing-gateway/internal/models"
	"github.com/user/routing-gateway/internal/routeconfig"
)

// ParameterMerger composes the final upstream request body: client
// payload first, then global defaults fill in absent keys, then
// model-specific defaults overwrite unconditionally. JSON round-trip is
// used deliberately (the teacher's own idiom in proxy.go/llm_router.go)
// rather than a field-by-field struct merge, since global/model params
// are arbitrary, provider-specific keys this layer doesn't otherwise
// understand.
type ParameterMerger struct {
	store *routeconfig.Store
}

// NewParameterMerger wraps a config store.
func NewParameterMerger(store *routeconfig.Store) *ParameterMerger {
	return &ParameterMerger{store: store}
}

// Compose builds the upstream body for one attempt against bareModel
// (no provider/ prefix) using protocol flavor to decide whether stream
// must be forced off.
func (m *ParameterMerger) Compose(clientBody map[string]any, bareModel string, protocol models.ProtocolFlavor) (map[string]any, error) {
	out, err := deepCopyJSON(clientBody)
	if err != nil {
		return nil, err
	}

	doc := m.store.Get()

	for k, v := range doc.GlobalParams() {
		if _, present := out[k]; !present {
			out[k] = v
		}
	}
	for k, v := range doc.ModelParams(bareModel) {
		out[k] = v
	}

	out["model"] = bareModel
	if !protocol.AllowsStreaming() {
		out["stream"] = false
	}

	return out, nil
}

func deepCopyJSON(in map[string]any) (map[string]any, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
