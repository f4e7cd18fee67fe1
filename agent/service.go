package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ServiceConfig is the static wiring the service needs from the
// orchestrator. Mutable fields are updated through Service setters.
type ServiceConfig struct {
	WorkingDir       string
	DefaultModel     string
	Provider         string
	MaxTurns         int
	MaxBudgetUSD     float64
	PermissionMode   string
	SandboxMode      string
	ReasoningEffort  string
	DockerContainer  string
	ClaudeParameters []string
	CodexParameters  []string
}

func (c ServiceConfig) parametersFor(provider string) []string {
	if provider == ProviderCodex {
		return c.CodexParameters
	}
	return c.ClaudeParameters
}

// Callbacks receive streaming progress. Nil members are skipped.
type Callbacks struct {
	OnText   func(text string)
	OnTool   func(toolName string)
	OnStatus func(status string)
}

// Service is the single gateway for every CLI call in the process.
// No retries, no backoff; failure policy lives with the callers.
type Service struct {
	mu        sync.Mutex
	cfg       ServiceConfig
	available map[string]bool
	registry  *Registry
}

// NewService wires a CLI service over the given process registry.
func NewService(cfg ServiceConfig, available map[string]bool, registry *Registry) *Service {
	return &Service{cfg: cfg, available: available, registry: registry}
}

// Registry exposes the shared process registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// UpdateAvailableProviders replaces the authenticated-provider set.
func (s *Service) UpdateAvailableProviders(available map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// UpdateDefaultModel switches the default model after /model.
func (s *Service) UpdateDefaultModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DefaultModel = model
}

// UpdateReasoningEffort switches the default codex reasoning effort.
func (s *Service) UpdateReasoningEffort(effort string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ReasoningEffort = effort
}

// UpdateDockerContainer switches the execution container. Empty means
// host execution.
func (s *Service) UpdateDockerContainer(container string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DockerContainer = container
}

// Snapshot returns a copy of the current service configuration.
func (s *Service) Snapshot() ServiceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Execute runs one non-streaming CLI call.
func (s *Service) Execute(ctx context.Context, req *Request) (*Response, error) {
	runner, model, err := s.makeRunner(req)
	if err != nil {
		return nil, err
	}
	slog.Info("cli execute starting", "label", req.Label, "model", model)

	started := time.Now()
	resp, err := runner.Run(ctx, req.Prompt, req.ResumeSession, req.ContinueSession, req.Timeout)
	if err != nil {
		return nil, err
	}
	s.logCall(req, resp, time.Since(started))
	return resp, nil
}

// ExecuteStreaming runs one streaming CLI call with automatic fallback
// to non-streaming when the stream fails or ends without a result.
func (s *Service) ExecuteStreaming(ctx context.Context, req *Request, cb Callbacks) (*Response, error) {
	runner, model, err := s.makeRunner(req)
	if err != nil {
		return nil, err
	}
	slog.Info("cli streaming starting", "label", req.Label, "model", model)

	var (
		accumulated strings.Builder
		result      *ResultPayload
	)
	emit := func(ev Event) {
		if s.registry.WasAborted(req.ChatID) {
			return
		}
		switch ev.Kind {
		case EventAssistantText:
			if ev.Text != "" {
				accumulated.WriteString(ev.Text)
				if cb.OnText != nil {
					cb.OnText(ev.Text)
				}
			}
		case EventThinking:
			if cb.OnStatus != nil {
				cb.OnStatus("thinking")
			}
		case EventToolUse:
			if cb.OnTool != nil {
				cb.OnTool(ev.ToolName)
			}
		case EventSystemStatus:
			if cb.OnStatus != nil {
				cb.OnStatus(ev.Status)
			}
		case EventCompactBounds:
			slog.Info("context compacted", "trigger", ev.Trigger, "pre_tokens", ev.PreTokens)
			if cb.OnStatus != nil {
				cb.OnStatus("")
			}
		case EventResult:
			result = ev.Result
		}
	}

	streamErr := runner.Stream(ctx, req.Prompt, req.ResumeSession, req.ContinueSession, req.Timeout, emit)
	if streamErr != nil {
		slog.Error("stream error, falling back", "label", req.Label, "error", streamErr)
	}

	if streamErr != nil || result == nil {
		return s.streamFallback(ctx, req, accumulated.String(), streamErr != nil)
	}

	slog.Info("cli streaming completed", "label", req.Label)
	text := result.Result
	if text == "" {
		text = accumulated.String()
	}
	return &Response{
		SessionID:    result.SessionID,
		Result:       text,
		IsError:      result.IsError,
		ReturnCode:   result.ReturnCode,
		DurationMS:   result.DurationMS,
		NumTurns:     result.NumTurns,
		TotalCostUSD: result.TotalCostUSD,
		Usage:        result.Usage,
	}, nil
}

// streamFallback resolves a failed or incomplete stream: an aborted
// chat gets an empty response, a stream that simply ended keeps its
// accumulated text, anything else retries non-streaming once.
func (s *Service) streamFallback(ctx context.Context, req *Request, accumulated string, hadError bool) (*Response, error) {
	wasAborted := s.registry.WasAborted(req.ChatID)
	slog.Info("stream fallback", "aborted", wasAborted, "accumulated", len(accumulated))

	if wasAborted {
		return &Response{Result: ""}, nil
	}
	if accumulated != "" && !hadError {
		slog.Info("stream ended without result, keeping accumulated text", "chars", len(accumulated))
		return &Response{Result: accumulated}, nil
	}

	slog.Warn("streaming failed, retrying non-streaming",
		"had_error", hadError, "accumulated", len(accumulated))
	resp, err := s.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.StreamFallback = true
	return resp, nil
}

// makeRunner resolves the target provider and model for the request
// and builds the matching runner. Returns the resolved model name for
// logging.
func (s *Service) makeRunner(req *Request) (Runner, string, error) {
	s.mu.Lock()
	cfg := s.cfg
	available := s.available
	s.mu.Unlock()

	model := req.ModelOverride
	if model == "" {
		model = cfg.DefaultModel
	}

	var provider string
	switch {
	case req.ProviderOverride != "":
		provider = req.ProviderOverride
	case len(available) > 0:
		var err error
		model, provider, err = ResolveForProvider(model, available)
		if err != nil {
			return nil, "", err
		}
	default:
		provider = ProviderFor(model)
	}

	sandbox := cfg.SandboxMode
	if sandbox == "" {
		sandbox = "read-only"
	}
	opts := Options{
		Provider:           provider,
		WorkingDir:         cfg.WorkingDir,
		Model:              model,
		SystemPrompt:       req.SystemPrompt,
		AppendSystemPrompt: req.AppendSystemPrompt,
		MaxTurns:           cfg.MaxTurns,
		MaxBudgetUSD:       cfg.MaxBudgetUSD,
		PermissionMode:     cfg.PermissionMode,
		SandboxMode:        sandbox,
		ReasoningEffort:    cfg.ReasoningEffort,
		ExtraArgs:          cfg.parametersFor(provider),
		ChatID:             req.ChatID,
		Label:              req.Label,
	}

	var (
		runner Runner
		err    error
	)
	if provider == ProviderCodex {
		runner, err = NewCodexCLI(opts, s.registry, cfg.DockerContainer)
	} else {
		runner, err = NewClaudeCLI(opts, s.registry, cfg.DockerContainer)
	}
	if err != nil {
		return nil, "", err
	}
	return runner, model, nil
}

func (s *Service) logCall(req *Request, resp *Response, elapsed time.Duration) {
	status := "ok"
	if resp.IsError {
		status = "error"
	}
	slog.Info("cli call finished",
		"label", req.Label,
		"status", status,
		"cost_usd", resp.TotalCostUSD,
		"tokens", resp.TotalTokens(),
		"duration_ms", elapsed.Milliseconds())
}
