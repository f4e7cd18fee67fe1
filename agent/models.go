package agent

import (
	"log/slog"

	"github.com/hrygo/ductor/internal/errs"
)

// claudeModels are the short aliases the claude CLI accepts. Codex
// model names are taken at face value.
var claudeModels = map[string]bool{
	"haiku":  true,
	"sonnet": true,
	"opus":   true,
}

// modelEquivalence maps a model to its closest counterpart on the
// other provider, used when the native provider is unauthenticated.
var modelEquivalence = map[string]string{
	"opus":               "gpt-5.2-codex",
	"sonnet":             "gpt-5.1-codex-mini",
	"haiku":              "gpt-5.1-codex-mini",
	"gpt-5.2-codex":      "opus",
	"gpt-5.1-codex-max":  "opus",
	"gpt-5.1-codex-mini": "sonnet",
	"gpt-5.2":            "opus",
	"gpt-5.3-codex":      "opus",
}

// codexModels are the codex model ids offered by the selector, newest
// first.
var codexModels = []string{
	"gpt-5.3-codex",
	"gpt-5.2-codex",
	"gpt-5.2",
	"gpt-5.1-codex-max",
	"gpt-5.1-codex-mini",
}

// IsClaudeModel reports whether the model is a claude alias.
func IsClaudeModel(model string) bool {
	return claudeModels[model]
}

// IsKnownModel reports whether the name targets any supported model.
func IsKnownModel(model string) bool {
	if claudeModels[model] {
		return true
	}
	_, ok := modelEquivalence[model]
	return ok
}

// ClaudeModels returns the claude aliases in selector order.
func ClaudeModels() []string {
	return []string{"haiku", "sonnet", "opus"}
}

// CodexModels returns the codex model ids in selector order.
func CodexModels() []string {
	out := make([]string, len(codexModels))
	copy(out, codexModels)
	return out
}

// ProviderFor returns the native provider for a model name.
func ProviderFor(model string) string {
	if claudeModels[model] {
		return ProviderClaude
	}
	return ProviderCodex
}

// ResolveForProvider maps a requested model to (model, provider) given
// the set of authenticated providers. Order: native provider, the
// cross-provider equivalent, then any available provider with a
// provider-appropriate model.
func ResolveForProvider(model string, available map[string]bool) (string, string, error) {
	native := ProviderFor(model)
	if available[native] {
		return model, native, nil
	}

	if equivalent, ok := modelEquivalence[model]; ok {
		eqProvider := ProviderFor(equivalent)
		if available[eqProvider] {
			slog.Info("model fallback",
				"from", model, "from_provider", native,
				"to", equivalent, "to_provider", eqProvider)
			return equivalent, eqProvider, nil
		}
	}

	for _, provider := range []string{ProviderClaude, ProviderCodex} {
		if !available[provider] {
			continue
		}
		fallback := model
		if provider == ProviderClaude {
			fallback = "opus"
		}
		slog.Warn("no equivalent model, using provider default",
			"model", model, "fallback", fallback, "provider", provider)
		return fallback, provider, nil
	}

	return "", "", errs.New(errs.KindCLI, "no available provider for model %q", model)
}
