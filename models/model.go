package models

import "fmt"

// Tier represents the capability tier of a model
type Tier string

const (
	TierEnterprise   Tier = "enterprise"
	TierProfessional Tier = "professional"
	TierStandard     Tier = "standard"
)

// TiersDescending lists every tier from most to least capable
var TiersDescending = []Tier{TierEnterprise, TierProfessional, TierStandard}

// Rank returns the ordering position of the tier (higher is more capable).
// Unknown tiers rank below standard.
func (t Tier) Rank() int {
	switch t {
	case TierEnterprise:
		return 2
	case TierProfessional:
		return 1
	case TierStandard:
		return 0
	default:
		return -1
	}
}

// IsValid reports whether the tier is one of the known tiers
func (t Tier) IsValid() bool {
	return t.Rank() >= 0
}

// Below reports whether t is strictly less capable than other
func (t Tier) Below(other Tier) bool {
	return t.Rank() < other.Rank()
}

// CostClass represents the billing class of a model
type CostClass string

const (
	CostClassFree CostClass = "free"
	CostClassPaid CostClass = "paid"
)

// IsValid reports whether the cost class is known
func (c CostClass) IsValid() bool {
	return c == CostClassFree || c == CostClassPaid
}

// ModelDescriptor describes a routable model. Descriptors are immutable once
// the registry has been built.
type ModelDescriptor struct {
	ID            string    `json:"id" yaml:"id" validate:"required,modelid"`
	DisplayName   string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Tier          Tier      `json:"tier" yaml:"tier" validate:"required,oneof=enterprise professional standard"`
	ContextWindow int       `json:"context_window" yaml:"context_window" validate:"gt=0"`
	CostClass     CostClass `json:"cost_class" yaml:"cost_class" validate:"required,oneof=free paid"`

	// Provider names the upstream that serves the model; empty means DefaultProvider
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" validate:"omitempty,oneof=openai anthropic"`
}

// DefaultProvider serves every model that does not name a provider
const DefaultProvider = "openai"

// ProviderName returns the provider serving the model
func (m ModelDescriptor) ProviderName() string {
	if m.Provider == "" {
		return DefaultProvider
	}
	return m.Provider
}

// String returns a short human readable form of the descriptor
func (m ModelDescriptor) String() string {
	return fmt.Sprintf("%s (%s, %s, %d tokens)", m.ID, m.Tier, m.CostClass, m.ContextWindow)
}

// DefaultCatalog returns the built-in model catalog used when no registry
// file is configured
func DefaultCatalog() []ModelDescriptor {
	return []ModelDescriptor{
		{ID: "gpt-4o", DisplayName: "GPT-4o", Tier: TierEnterprise, ContextWindow: 128000, CostClass: CostClassPaid},
		{ID: "claude-3-5-sonnet", DisplayName: "Claude 3.5 Sonnet", Tier: TierEnterprise, ContextWindow: 200000, CostClass: CostClassPaid, Provider: "anthropic"},
		{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Tier: TierProfessional, ContextWindow: 128000, CostClass: CostClassPaid},
		{ID: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B", Tier: TierProfessional, ContextWindow: 32768, CostClass: CostClassFree},
		{ID: "llama-3.1-8b-instant", DisplayName: "Llama 3.1 8B", Tier: TierStandard, ContextWindow: 8192, CostClass: CostClassFree},
		{ID: "gemma2-9b-it", DisplayName: "Gemma 2 9B", Tier: TierStandard, ContextWindow: 8192, CostClass: CostClassFree},
	}
}
