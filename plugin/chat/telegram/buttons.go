package telegram

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Agent output may carry [button:Label] markers that become an inline
// keyboard. Buttons on the same line form one row.

var (
	buttonRe     = regexp.MustCompile(`\[button:([^\]]+)\]`)
	codeBlockRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]+`")
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

const callbackDataMaxBytes = 64

// truncateCallbackData cuts label so its UTF-8 encoding fits within
// Telegram's 64-byte callback_data limit, never mid-rune.
func truncateCallbackData(label string) string {
	if len(label) <= callbackDataMaxBytes {
		return label
	}
	cut := callbackDataMaxBytes
	for cut > 0 && !utf8.RuneStart(label[cut]) {
		cut--
	}
	return label[:cut]
}

// maskCode replaces code blocks and inline code with placeholders so
// button markers inside code are never parsed.
func maskCode(text string) (string, []string) {
	var saved []string
	save := func(match string) string {
		placeholder := fmt.Sprintf("\x00CODE%d\x00", len(saved))
		saved = append(saved, match)
		return placeholder
	}
	masked := codeBlockRe.ReplaceAllStringFunc(text, save)
	masked = inlineCodeRe.ReplaceAllStringFunc(masked, save)
	return masked, saved
}

func restoreCode(text string, saved []string) string {
	for i, original := range saved {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00CODE%d\x00", i), original)
	}
	return text
}

func collapseBlankLines(text string) string {
	return blankLinesRe.ReplaceAllString(text, "\n\n")
}

// ExtractButtons parses [button:...] markers and returns the cleaned
// text plus the keyboard, or nil when no valid buttons were found.
func ExtractButtons(text string) (string, *tgbotapi.InlineKeyboardMarkup) {
	if !strings.Contains(text, "[button:") {
		return text, nil
	}

	masked, saved := maskCode(text)

	var rows [][]tgbotapi.InlineKeyboardButton
	lines := strings.Split(masked, "\n")
	for i, line := range lines {
		matches := buttonRe.FindAllStringSubmatch(line, -1)
		if len(matches) == 0 {
			continue
		}
		var row []tgbotapi.InlineKeyboardButton
		for _, m := range matches {
			label := strings.TrimSpace(m[1])
			if label == "" {
				continue
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, truncateCallbackData(label)))
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
		lines[i] = buttonRe.ReplaceAllString(line, "")
	}

	cleaned := restoreCode(strings.Join(lines, "\n"), saved)
	cleaned = strings.TrimSpace(collapseBlankLines(cleaned))

	if len(rows) == 0 {
		return cleaned, nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return cleaned, &markup
}

// StripButtonSyntax removes [button:...] markers from display text,
// preserving code blocks. Used during streaming so button syntax never
// shows up as visible text.
func StripButtonSyntax(text string) string {
	if !strings.Contains(text, "[button:") {
		return text
	}
	masked, saved := maskCode(text)
	stripped := buttonRe.ReplaceAllString(masked, "")
	restored := restoreCode(stripped, saved)
	return strings.TrimSpace(collapseBlankLines(restored))
}
