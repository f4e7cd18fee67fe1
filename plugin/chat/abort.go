package chat

import "strings"

// abortWords are bare-word abort triggers in English and German.
var abortWords = map[string]bool{
	"stop":      true,
	"abort":     true,
	"cancel":    true,
	"halt":      true,
	"wait":      true,
	"quit":      true,
	"exit":      true,
	"interrupt": true,
	"stopp":     true,
	"warte":     true,
	"abbruch":   true,
	"abbrechen": true,
}

// IsAbortTrigger reports whether text is a single bare abort word.
func IsAbortTrigger(text string) bool {
	stripped := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(stripped, " ") {
		return false
	}
	return abortWords[stripped]
}

// IsAbortMessage reports whether text is /stop or a bare abort word.
func IsAbortMessage(text string) bool {
	stripped := strings.TrimSpace(text)
	if strings.EqualFold(stripped, "/stop") {
		return true
	}
	return IsAbortTrigger(stripped)
}
