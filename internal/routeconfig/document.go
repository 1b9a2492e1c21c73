// Package routeconfig loads and holds the frozen routing configuration
// document (spec section 6): providers, per-tier model pools and
// strategies, timeouts, retry policy, the intent classifier's router
// settings, health decay rate, and default/per-model parameters. It is
// the reference ConfigStore implementation the routing engine depends
// on as a read-only snapshot accessor.
package routeconfig

import (
	"fmt"

	"github.com/user/routing-gateway/internal/models"
)

// ProviderSpec is the on-disk shape of one provider endpoint.
type ProviderSpec struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Protocol  string `yaml:"protocol"`
	VerifySSL bool   `yaml:"verify_ssl"`
}

// ProvidersDoc is the `providers:` section of the document.
type ProvidersDoc struct {
	Upstream ProviderSpec            `yaml:"upstream"`
	Custom   map[string]ProviderSpec `yaml:"custom"`
	Map      map[string]string       `yaml:"map"`
}

// ModelsDoc is the `models:` section of the document.
type ModelsDoc struct {
	T1         []string          `yaml:"t1"`
	T2         []string          `yaml:"t2"`
	T3         []string          `yaml:"t3"`
	Strategies map[string]string `yaml:"strategies"`
}

// TimeoutsDoc is the `timeouts:` section.
type TimeoutsDoc struct {
	Connect    map[string]int `yaml:"connect"`
	Generation map[string]int `yaml:"generation"`
}

// RetryConditionsDoc is the `retries.conditions:` sub-section.
type RetryConditionsDoc struct {
	StatusCodes   []int    `yaml:"status_codes"`
	ErrorKeywords []string `yaml:"error_keywords"`
	RetryOnEmpty  bool     `yaml:"retry_on_empty"`
}

// RetriesDoc is the `retries:` section.
type RetriesDoc struct {
	Rounds      map[string]int     `yaml:"rounds"`
	MaxRetries  map[string]int     `yaml:"max_retries"`
	Conditions  RetryConditionsDoc `yaml:"conditions"`
}

// RouterDoc is the `router:` section controlling the intent classifier.
type RouterDoc struct {
	Enabled       bool   `yaml:"enabled"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	VerifySSL     bool   `yaml:"verify_ssl"`
	PromptTemplate string `yaml:"prompt_template"`
}

// HealthDoc is the `health:` section.
type HealthDoc struct {
	DecayRate float64 `yaml:"decay_rate"`
}

// ParamsDoc is the `params:` section.
type ParamsDoc struct {
	GlobalParams map[string]any            `yaml:"global_params"`
	ModelParams  map[string]map[string]any `yaml:"model_params"`
}

// GeneralDoc is the `general:` section.
type GeneralDoc struct {
	GatewayAPIKey string `yaml:"gateway_api_key"`
}

// RoutingDocument is the full typed configuration document, loaded once
// and swapped atomically (see Store).
type RoutingDocument struct {
	Providers ProvidersDoc `yaml:"providers"`
	Models    ModelsDoc    `yaml:"models"`
	Timeouts  TimeoutsDoc  `yaml:"timeouts"`
	Retries   RetriesDoc   `yaml:"retries"`
	Router    RouterDoc    `yaml:"router"`
	Health    HealthDoc    `yaml:"health"`
	Params    ParamsDoc    `yaml:"params"`
	General   GeneralDoc   `yaml:"general"`
}

// Default returns a minimal, conservative document suitable for tests
// and for `--init`-style scaffolding.
func Default() *RoutingDocument {
	return &RoutingDocument{
		Models: ModelsDoc{
			Strategies: map[string]string{"t1": "sequential", "t2": "sequential", "t3": "adaptive"},
		},
		Timeouts: TimeoutsDoc{
			Connect:    map[string]int{"t1": 3000, "t2": 5000, "t3": 8000},
			Generation: map[string]int{"t1": 20000, "t2": 60000, "t3": 120000},
		},
		Retries: RetriesDoc{
			Rounds:     map[string]int{"t1": 1, "t2": 1, "t3": 1},
			MaxRetries: map[string]int{"t1": 2, "t2": 2, "t3": 3},
			Conditions: RetryConditionsDoc{RetryOnEmpty: true},
		},
		Router: RouterDoc{Enabled: false},
		Health: HealthDoc{DecayRate: 1.0},
	}
}

// resolveProtocol maps the on-disk protocol string to the typed flavor,
// defaulting to openai for an empty/unrecognized value.
func resolveProtocol(s string) models.ProtocolFlavor {
	switch models.ProtocolFlavor(s) {
	case models.ProtocolMessages, models.ProtocolResponses, models.ProtocolOpenAI:
		return models.ProtocolFlavor(s)
	default:
		return models.ProtocolOpenAI
	}
}

// Endpoint resolves providerID to a models.ProviderEndpoint, returning
// ok=false if it isn't configured. An empty providerID or "upstream"
// resolves to the default upstream provider.
func (d *RoutingDocument) Endpoint(providerID string) (models.ProviderEndpoint, bool) {
	if providerID == "" || providerID == "upstream" {
		return toEndpoint(d.Providers.Upstream), d.Providers.Upstream.BaseURL != ""
	}
	spec, ok := d.Providers.Custom[providerID]
	if !ok {
		return models.ProviderEndpoint{}, false
	}
	return toEndpoint(spec), true
}

func toEndpoint(s ProviderSpec) models.ProviderEndpoint {
	return models.ProviderEndpoint{
		BaseURL:   s.BaseURL,
		APIKey:    s.APIKey,
		Protocol:  resolveProtocol(s.Protocol),
		VerifyTLS: s.VerifySSL,
	}
}

// ProviderForModel looks up the model→provider map, falling back to the
// empty (implicit upstream) provider id.
func (d *RoutingDocument) ProviderForModel(model string) string {
	if pid, ok := d.Providers.Map[model]; ok {
		return pid
	}
	return ""
}

// Tier assembles the typed TierConfig for t, resolving each configured
// model name against the provider map the way ProviderRegistry.Resolve
// would, so CandidateSelector only ever handles fully-qualified refs.
func (d *RoutingDocument) Tier(t models.Tier) (models.TierConfig, error) {
	var names []string
	switch t {
	case models.TierT1:
		names = d.Models.T1
	case models.TierT2:
		names = d.Models.T2
	case models.TierT3:
		names = d.Models.T3
	default:
		return models.TierConfig{}, fmt.Errorf("unknown tier %q", t)
	}

	refs := make([]models.ModelRef, 0, len(names))
	for _, n := range names {
		providerID, model, has := models.ParseModelRef(n)
		if !has {
			providerID = d.ProviderForModel(model)
		}
		if providerID == "" {
			providerID = "upstream"
		}
		refs = append(refs, models.ModelRef{ProviderID: providerID, Model: model})
	}

	strategy := models.Strategy(d.Models.Strategies[string(t)])
	if strategy == "" {
		strategy = models.StrategySequential
	}

	return models.TierConfig{
		Models:            refs,
		Strategy:          strategy,
		ConnectTimeoutMS:  d.Timeouts.Connect[string(t)],
		GenerationTimeout: d.Timeouts.Generation[string(t)],
		Rounds:            orDefault(d.Retries.Rounds[string(t)], 1),
		MaxRetries:        orDefault(d.Retries.MaxRetries[string(t)], 1),
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// RetryConditions returns the typed retry-condition set.
func (d *RoutingDocument) RetryConditions() models.RetryConditions {
	codes := make(map[int]bool, len(d.Retries.Conditions.StatusCodes))
	for _, c := range d.Retries.Conditions.StatusCodes {
		codes[c] = true
	}
	return models.RetryConditions{
		StatusCodes:   codes,
		ErrorKeywords: d.Retries.Conditions.ErrorKeywords,
		RetryOnEmpty:  d.Retries.Conditions.RetryOnEmpty,
	}
}

// GlobalParams returns the default-if-absent parameter set.
func (d *RoutingDocument) GlobalParams() map[string]any {
	return d.Params.GlobalParams
}

// ModelParams returns the unconditional-overwrite parameter set for a
// bare model name.
func (d *RoutingDocument) ModelParams(model string) map[string]any {
	return d.Params.ModelParams[model]
}
