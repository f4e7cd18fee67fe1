package agent

import (
	"sort"
	"strings"

	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/internal/errs"
)

// Overrides are per-task execution overrides carried by cron jobs and
// webhook entries. Zero values mean "use the global setting".
type Overrides struct {
	Provider        string
	Model           string
	ReasoningEffort string
	CLIParameters   []string
}

// Execution is the fully resolved configuration for one CLI run.
type Execution struct {
	Provider        string
	Model           string
	ReasoningEffort string
	CLIParameters   []string
	PermissionMode  string
	WorkingDir      string
	FileAccess      string
}

// ResolveExecution layers task overrides over the global config and
// validates the resolved model. Overrides replace whole fields; they
// are not merged element-wise.
func ResolveExecution(cfg *config.Config, workingDir string, overrides *Overrides) (*Execution, error) {
	o := overrides
	if o == nil {
		o = &Overrides{}
	}

	provider := cfg.Provider
	if o.Provider != "" {
		provider = o.Provider
	}
	model := cfg.Model
	if o.Model != "" {
		model = o.Model
	}

	if provider == ProviderClaude && !IsClaudeModel(model) {
		return nil, errs.New(errs.KindCLI,
			"invalid claude model %q, must be one of %s", model, claudeModelList())
	}

	effort := ""
	if provider == ProviderCodex {
		effort = cfg.ReasoningEffort
		if o.ReasoningEffort != "" {
			effort = o.ReasoningEffort
		}
	}

	params := globalParameters(cfg, provider)
	if len(o.CLIParameters) > 0 {
		params = o.CLIParameters
	}

	return &Execution{
		Provider:        provider,
		Model:           model,
		ReasoningEffort: effort,
		CLIParameters:   params,
		PermissionMode:  cfg.PermissionMode,
		WorkingDir:      workingDir,
		FileAccess:      cfg.FileAccess,
	}, nil
}

func globalParameters(cfg *config.Config, provider string) []string {
	if provider == ProviderCodex {
		return cfg.CLIParameters.Codex
	}
	return cfg.CLIParameters.Claude
}

func claudeModelList() string {
	names := make([]string, 0, len(claudeModels))
	for name := range claudeModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
