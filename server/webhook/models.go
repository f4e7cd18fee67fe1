// Package webhook implements the HTTP ingress for external triggers:
// hook persistence, bearer/HMAC authentication, the echo server and
// the dispatch observer.
package webhook

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Hook modes.
const (
	ModeWake = "wake"
	ModeTask = "cron_task"
)

// Auth modes.
const (
	AuthBearer = "bearer"
	AuthHMAC   = "hmac"
)

// Hook is a registered webhook endpoint definition.
type Hook struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Mode           string `json:"mode"`
	PromptTemplate string `json:"prompt_template"`
	Enabled        bool   `json:"enabled"`
	TaskFolder     string `json:"task_folder,omitempty"`

	AuthMode string `json:"auth_mode"`
	// Per-hook bearer token, auto-generated on creation.
	Token string `json:"token"`

	HMACSecret             string `json:"hmac_secret,omitempty"`
	HMACHeader             string `json:"hmac_header,omitempty"`
	HMACAlgorithm          string `json:"hmac_algorithm,omitempty"`
	HMACEncoding           string `json:"hmac_encoding,omitempty"`
	HMACSigPrefix          string `json:"hmac_sig_prefix,omitempty"`
	HMACSigRegex           string `json:"hmac_sig_regex,omitempty"`
	HMACPayloadPrefixRegex string `json:"hmac_payload_prefix_regex,omitempty"`

	CreatedAt       string `json:"created_at"`
	TriggerCount    int    `json:"trigger_count"`
	LastTriggeredAt string `json:"last_triggered_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`

	// Per-hook execution overrides for cron_task mode.
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	CLIParameters   []string `json:"cli_parameters,omitempty"`
}

// normalize fills auth defaults on hooks loaded from disk or created
// by tooling that omitted them.
func (h *Hook) normalize() {
	if h.AuthMode == "" {
		h.AuthMode = AuthBearer
	}
	if h.HMACAlgorithm == "" {
		h.HMACAlgorithm = "sha256"
	}
	if h.HMACEncoding == "" {
		h.HMACEncoding = "hex"
	}
	if h.HMACSigPrefix == "" {
		h.HMACSigPrefix = "sha256="
	}
}

// Result is the outcome of one webhook dispatch.
type Result struct {
	HookID     string
	HookTitle  string
	Mode       string
	ResultText string
	Status     string
}

var templateRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// RenderTemplate replaces {{field}} placeholders with payload values.
// Missing keys render as {{?field}} so they stay visible but non-fatal.
func RenderTemplate(template string, payload map[string]any) string {
	return templateRe.ReplaceAllStringFunc(template, func(match string) string {
		key := templateRe.FindStringSubmatch(match)[1]
		value, ok := payload[key]
		if !ok || value == nil {
			return "{{?" + key + "}}"
		}
		return formatValue(value)
	})
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
