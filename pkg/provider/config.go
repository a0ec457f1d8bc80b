package provider

import (
	"fmt"
	"strings"
)

/*
Tier is the subscription level of a requester. Tiers are ordered, a provider
restricted to a tier serves that tier and every tier above it.
*/
type Tier int

const (
	TierFree Tier = iota
	TierPro
	TierPremium
	TierEnterprise
)

var tierNames = map[Tier]string{
	TierFree:       "free",
	TierPro:        "pro",
	TierPremium:    "premium",
	TierEnterprise: "enterprise",
}

func (tier Tier) String() string {
	if name, ok := tierNames[tier]; ok {
		return name
	}

	return fmt.Sprintf("tier(%d)", int(tier))
}

/*
ParseTier accepts a tier name case-insensitively. The empty string is the
free tier.
*/
func ParseTier(name string) (Tier, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	if name == "" {
		return TierFree, nil
	}

	for tier, candidate := range tierNames {
		if candidate == name {
			return tier, nil
		}
	}

	return TierFree, fmt.Errorf("unknown tier %q", name)
}

func (tier *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))

	if err != nil {
		return err
	}

	*tier = parsed
	return nil
}

func (tier Tier) MarshalText() ([]byte, error) {
	return []byte(tier.String()), nil
}

/*
Config is one entry of the provider catalogue.
*/
type Config struct {
	ID                 string            `mapstructure:"id"`
	Backend            string            `mapstructure:"backend"`
	Model              string            `mapstructure:"model"`
	Priority           int               `mapstructure:"priority"`
	TierRestriction    string            `mapstructure:"tierRestriction"`
	CostSafetyOverride map[string]string `mapstructure:"costSafetyOverride"`
	Enabled            bool              `mapstructure:"enabled"`
}

/*
MinTier is the lowest tier allowed to use the provider. An unparsable
restriction locks the provider to enterprise.
*/
func (cfg Config) MinTier() Tier {
	tier, err := ParseTier(cfg.TierRestriction)

	if err != nil {
		return TierEnterprise
	}

	return tier
}

/*
ModelFor applies the cost-safety override for tier, if one is configured.
The "*" key covers every tier without an entry of its own.
*/
func (cfg Config) ModelFor(tier Tier) string {
	if model := cfg.CostSafetyOverride[tier.String()]; model != "" {
		return model
	}

	if model := cfg.CostSafetyOverride["*"]; model != "" {
		return model
	}

	return cfg.Model
}

/*
DefaultCatalogue is the five-provider line-up. Free gets openrouter and
openai, pro adds deepseek and claude, premium adds gemini.
*/
func DefaultCatalogue() []Config {
	return []Config{
		{ID: "openrouter", Backend: "openrouter", Model: "meta-llama/llama-3.1-8b-instruct:free", Priority: 10, TierRestriction: "free", Enabled: true},
		{ID: "openai", Backend: "openai", Model: "gpt-4o", Priority: 30, TierRestriction: "free", Enabled: true,
			CostSafetyOverride: map[string]string{"*": "gpt-4o-mini"}},
		{ID: "deepseek", Backend: "deepseek", Model: "deepseek-chat", Priority: 20, TierRestriction: "pro", Enabled: true},
		{ID: "gemini", Backend: "google", Model: "gemini-2.0-flash", Priority: 40, TierRestriction: "premium", Enabled: true},
		{ID: "claude", Backend: "anthropic", Model: "claude-3-5-sonnet-latest", Priority: 50, TierRestriction: "pro", Enabled: true},
	}
}

/*
NewBackend builds the SDK backend named by kind.
*/
func NewBackend(kind string) (Backend, error) {
	switch strings.ToLower(kind) {
	case "openai":
		return NewOpenAIBackend(), nil
	case "openrouter":
		return NewOpenRouterBackend(), nil
	case "anthropic", "claude":
		return NewAnthropicBackend(), nil
	case "google", "gemini":
		return NewGoogleBackend(), nil
	case "deepseek":
		return NewDeepseekBackend(), nil
	case "ollama":
		return NewOllamaBackend(), nil
	case "cohere":
		return NewCohereBackend(), nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", kind)
	}
}
