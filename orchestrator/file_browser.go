package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/ductor/security"
)

// Callback data prefixes for the /showfiles browser. SFPrefix navigates
// to a directory, SFFilePrefix asks the agent to send files from one.
// Both must keep the rel path within Telegram's 64-byte callback limit.
const (
	SFPrefix     = "sf:"
	SFFilePrefix = "sf!"
)

var excludedBrowserNames = map[string]bool{
	"__pycache__": true,
	".git":        true,
}

const maxBrowserButtonsPerRow = 3

// IsFileBrowserCallback reports whether callback data belongs to the
// file browser.
func IsFileBrowserCallback(data string) bool {
	return strings.HasPrefix(data, SFPrefix) || strings.HasPrefix(data, SFFilePrefix)
}

func (o *Orchestrator) cmdShowFiles(_ context.Context, _ int64, _ string) (*Result, error) {
	text, markup := o.buildBrowserView("")
	return &Result{Text: text, ReplyMarkup: markup}, nil
}

// HandleFileBrowserCallback routes an sf:/sf! callback. The third
// return is a non-empty agent prompt for file-request callbacks; the
// caller feeds it through the normal message path.
func (o *Orchestrator) HandleFileBrowserCallback(data string) (string, *tgbotapi.InlineKeyboardMarkup, string) {
	if rel, ok := strings.CutPrefix(data, SFFilePrefix); ok {
		dir := o.paths.Home
		if rel != "" {
			dir = filepath.Join(o.paths.Home, rel)
		}
		prompt := fmt.Sprintf(
			"List all files in %s/ and send me whichever one I ask for. Deliver files using file tags.", dir)
		return "", nil, prompt
	}
	rel := strings.TrimPrefix(data, SFPrefix)
	text, markup := o.buildBrowserView(rel)
	return text, markup, ""
}

func (o *Orchestrator) buildBrowserView(rel string) (string, *tgbotapi.InlineKeyboardMarkup) {
	base := o.paths.Home
	target := base
	if rel != "" {
		target = filepath.Join(base, rel)
	}

	if !security.IsPathSafe(target, []string{base}) || !isDir(target) {
		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("<< Back", SFPrefix),
			),
		)
		return Blocks("**File Browser**", Sep, "Directory not found."), &markup
	}

	dirs, files := listBrowserDir(target)

	displayPath := "~/.ductor/"
	if rel != "" {
		displayPath = "~/.ductor/" + rel + "/"
	}
	var body []string
	for _, d := range dirs {
		body = append(body, "  "+d+"/")
	}
	for _, f := range files {
		body = append(body, "  "+f)
	}
	if len(body) == 0 {
		body = append(body, "  (empty)")
	}
	text := Blocks("**File Browser**", Sep,
		fmt.Sprintf("`%s`\n\n%s", displayPath, strings.Join(body, "\n")), Sep)

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, d := range dirs {
		childRel := d
		if rel != "" {
			childRel = rel + "/" + d
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(d+"/", SFPrefix+childRel))
		if len(row) >= maxBrowserButtonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	if rel != "" {
		parent := filepath.Dir(rel)
		parentCB := SFPrefix
		if parent != "." {
			parentCB = SFPrefix + parent
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("<< Back", parentCB)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Send me a file from this folder", SFFilePrefix+rel)))

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return text, &markup
}

// listBrowserDir lists a directory's visible entries, dirs and files
// separately, sorted case-insensitively.
func listBrowserDir(target string) (dirs, files []string) {
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, nil
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || excludedBrowserNames[name] {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	lower := func(s []string) { sort.Slice(s, func(i, j int) bool { return strings.ToLower(s[i]) < strings.ToLower(s[j]) }) }
	lower(dirs)
	lower(files)
	return dirs, files
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
