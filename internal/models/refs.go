// Package models holds the plain data shapes shared by every routing
// component: model references, per-tier configuration, provider
// endpoints, and the health/trace/log records the engine produces.
package models

import "strings"

// ModelRef identifies one upstream model behind a named provider.
type ModelRef struct {
	ProviderID string
	Model      string
}

// String renders the canonical "provider/model" form.
func (r ModelRef) String() string {
	return r.ProviderID + "/" + r.Model
}

// ParseModelRef splits a client-supplied model string at the first '/'.
// A bare name with no slash is returned with an empty ProviderID; the
// caller resolves it via the model→provider map or the implicit
// upstream provider (see service.ProviderRegistry).
func ParseModelRef(raw string) (providerID, model string, hasProvider bool) {
	if idx := strings.IndexByte(raw, '/'); idx >= 0 {
		return raw[:idx], raw[idx+1:], true
	}
	return "", raw, false
}

// Strategy selects how CandidateSelector orders models within a tier.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyRandom     Strategy = "random"
	StrategyAdaptive   Strategy = "adaptive"
)

// Tier is the intent-complexity bucket the classifier assigns to a
// request. Larger numbers imply more capable, more expensive models.
type Tier string

const (
	TierT1 Tier = "t1"
	TierT2 Tier = "t2"
	TierT3 Tier = "t3"
)

// TierConfig holds the candidate pool and budget for one tier.
type TierConfig struct {
	Models            []ModelRef
	Strategy          Strategy
	ConnectTimeoutMS  int
	GenerationTimeout int
	Rounds            int // used when Strategy == sequential
	MaxRetries        int // used when Strategy != sequential
}

// ProtocolFlavor governs the south-side path suffix and whether
// streaming is permitted to the upstream.
type ProtocolFlavor string

const (
	ProtocolOpenAI     ProtocolFlavor = "openai"
	ProtocolMessages   ProtocolFlavor = "v1-messages"
	ProtocolResponses  ProtocolFlavor = "v1-response"
)

// AllowsStreaming reports whether this flavor may be asked to stream.
// v1-messages and v1-response upstreams are always invoked buffered,
// even when the client itself requested a stream.
func (p ProtocolFlavor) AllowsStreaming() bool {
	return p == ProtocolOpenAI
}

// Path returns the upstream path suffix for this flavor.
func (p ProtocolFlavor) Path() string {
	switch p {
	case ProtocolMessages:
		return "/messages"
	case ProtocolResponses:
		return "/responses"
	default:
		return "/chat/completions"
	}
}

// ProviderEndpoint is the resolved upstream target for one provider.
type ProviderEndpoint struct {
	BaseURL    string
	APIKey     string
	Protocol   ProtocolFlavor
	VerifyTLS  bool
}

// RetryConditions are the operator-configured extras layered on top of
// the always-retryable outcome kinds.
type RetryConditions struct {
	StatusCodes   map[int]bool
	ErrorKeywords []string
	RetryOnEmpty  bool
}

// MatchesKeyword reports whether body contains any configured keyword,
// case-insensitively.
func (c RetryConditions) MatchesKeyword(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, kw := range c.ErrorKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// HasStatusCode reports whether code is in the operator-configured
// extra retry set.
func (c RetryConditions) HasStatusCode(code int) bool {
	return c.StatusCodes[code]
}

// OutcomeKind is the closed taxonomy of attempt failure/success kinds
// used for both retry classification and health penalties.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeTimeoutConnect    OutcomeKind = "timeout_connect"
	OutcomeTimeoutGeneration OutcomeKind = "timeout_generation"
	OutcomeHTTP4xxAuth       OutcomeKind = "http_4xx_auth"
	OutcomeHTTP429           OutcomeKind = "http_429"
	OutcomeHTTP5xx           OutcomeKind = "http_5xx"
	OutcomeHTTP4xxOther      OutcomeKind = "http_4xx_other"
	OutcomeEmptyResponse     OutcomeKind = "empty_response"
	OutcomeBodyKeyword       OutcomeKind = "body_keyword"
	OutcomeStreamAbort       OutcomeKind = "stream_abort"
	OutcomeTransport         OutcomeKind = "transport"
)

// PenaltyMap holds the failure_score weight charged per outcome kind.
// Relative ordering (auth >= 5xx > stream_abort >= timeout_connect >=
// empty >= keyword) must be preserved if these are tuned; the values
// below are the representative constants spec policy pins.
type PenaltyMap map[OutcomeKind]float64

// DefaultPenalties returns the policy-pinned constants.
func DefaultPenalties() PenaltyMap {
	return PenaltyMap{
		OutcomeTimeoutConnect:    2.0,
		OutcomeTimeoutGeneration: 3.0,
		OutcomeHTTP4xxAuth:       5.0,
		OutcomeHTTP429:           1.0,
		OutcomeHTTP5xx:           2.0,
		OutcomeEmptyResponse:     1.5,
		OutcomeStreamAbort:       2.0,
		OutcomeBodyKeyword:       1.0,
		OutcomeTransport:         2.0,
	}
}

// Weight returns the penalty for kind, defaulting to 1.0 for an
// unrecognized kind rather than zero, so a miscategorized failure still
// costs something.
func (p PenaltyMap) Weight(kind OutcomeKind) float64 {
	if w, ok := p[kind]; ok {
		return w
	}
	return 1.0
}

// IsRetryable reports whether a terminal outcome kind is, by itself
// (independent of any operator-configured extra status codes), one of
// the always-retryable kinds named in the authoritative rule in
// spec section 4.7.
func (k OutcomeKind) IsRetryable() bool {
	switch k {
	case OutcomeTimeoutConnect, OutcomeTimeoutGeneration, OutcomeTransport,
		OutcomeHTTP5xx, OutcomeHTTP429, OutcomeEmptyResponse,
		OutcomeStreamAbort, OutcomeBodyKeyword:
		return true
	default:
		return false
	}
}
