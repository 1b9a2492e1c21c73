package routeconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Load reads the routing document from path (YAML), falling back to
// Default() if path is empty or unreadable, then layers environment
// overrides on top — the same env-wins-over-file-wins-over-defaults
// priority the teacher's own loader uses, just against a nested
// document instead of a flat env-var set.
func Load(path string, logger *zap.Logger) (*RoutingDocument, error) {
	doc := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if logger != nil {
				logger.Warn("routing document not found, using defaults", zap.String("path", path), zap.Error(err))
			}
		} else {
			loaded := Default()
			if err := yaml.Unmarshal(data, loaded); err != nil {
				return nil, fmt.Errorf("parse routing document %s: %w", path, err)
			}
			doc = loaded
		}
	}

	applyEnvOverrides(doc)

	if doc.Providers.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("providers.upstream.base_url is required")
	}
	return doc, nil
}

// applyEnvOverrides layers a small set of operationally-sensitive
// fields from the environment on top of the loaded document, matching
// the teacher's env-vars-win-over-file convention.
func applyEnvOverrides(doc *RoutingDocument) {
	if v := os.Getenv("ROUTING_UPSTREAM_BASE_URL"); v != "" {
		doc.Providers.Upstream.BaseURL = v
	}
	if v := os.Getenv("ROUTING_UPSTREAM_API_KEY"); v != "" {
		doc.Providers.Upstream.APIKey = v
	}
	if v := os.Getenv("ROUTING_GATEWAY_API_KEY"); v != "" {
		doc.General.GatewayAPIKey = v
	}
	if v := os.Getenv("ROUTING_ROUTER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			doc.Router.Enabled = b
		}
	}
	if v := os.Getenv("ROUTING_ROUTER_MODEL"); v != "" {
		doc.Router.Model = v
	}
	if v := os.Getenv("ROUTING_HEALTH_DECAY_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			doc.Health.DecayRate = f
		}
	}
	for _, kv := range os.Environ() {
		const prefix = "ROUTING_PROVIDER_"
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		// ROUTING_PROVIDER_<ID>_BASE_URL / _API_KEY / _PROTOCOL
		rest := strings.TrimPrefix(kv, prefix)
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			continue
		}
		key, val := rest[:eq], rest[eq+1:]
		parts := strings.SplitN(key, "_", 2)
		if len(parts) != 2 {
			continue
		}
		id, field := strings.ToLower(parts[0]), parts[1]
		spec := doc.Providers.Custom[id]
		switch field {
		case "BASE_URL":
			spec.BaseURL = val
		case "API_KEY":
			spec.APIKey = val
		case "PROTOCOL":
			spec.Protocol = val
		default:
			continue
		}
		if doc.Providers.Custom == nil {
			doc.Providers.Custom = map[string]ProviderSpec{}
		}
		doc.Providers.Custom[id] = spec
	}
}
