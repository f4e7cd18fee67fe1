package orchestrator

import (
	"regexp"
	"strings"

	"github.com/hrygo/ductor/agent"
)

var directiveRe = regexp.MustCompile(`@([a-zA-Z][a-zA-Z0-9_-]*)(?:=(\S+))?`)

// ParsedDirectives is the result of parsing leading @directives.
type ParsedDirectives struct {
	Cleaned string
	Model   string
	Raw     map[string]string
}

// HasModel reports whether a model directive was consumed.
func (p ParsedDirectives) HasModel() bool { return p.Model != "" }

// IsDirectiveOnly reports whether the message had no content besides
// directives.
func (p ParsedDirectives) IsDirectiveOnly() bool { return p.Cleaned == "" }

// ParseDirectives extracts leading @directives from a message. Only
// directives at the very start are consumed; this prevents false
// matches like "email @opus".
func ParseDirectives(text string) ParsedDirectives {
	stripped := strings.TrimSpace(text)
	if stripped == "" || !strings.HasPrefix(stripped, "@") {
		return ParsedDirectives{Cleaned: stripped}
	}

	model := ""
	raw := map[string]string{}
	pos := 0

	for _, loc := range directiveRe.FindAllStringSubmatchIndex(stripped, -1) {
		prefix := stripped[pos:loc[0]]
		if strings.TrimSpace(prefix) != "" {
			break
		}
		key := strings.ToLower(stripped[loc[2]:loc[3]])
		value := ""
		if loc[4] >= 0 {
			value = stripped[loc[4]:loc[5]]
		}
		if agent.IsKnownModel(key) && model == "" {
			model = key
		} else {
			raw[key] = value
		}
		pos = loc[1]
	}

	if model == "" && len(raw) == 0 {
		return ParsedDirectives{Cleaned: stripped}
	}
	return ParsedDirectives{
		Cleaned: strings.TrimSpace(stripped[pos:]),
		Model:   model,
		Raw:     raw,
	}
}
