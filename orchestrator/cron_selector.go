package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/ductor/plugin/cron"
)

// CRNPrefix marks callback data belonging to the cron toggle list.
const CRNPrefix = "crn:"

const cronPageSize = 6

// IsCronSelectorCallback reports whether data belongs to the cron list.
func IsCronSelectorCallback(data string) bool {
	return strings.HasPrefix(data, CRNPrefix)
}

// jobFingerprint guards toggle buttons against a reordered jobs file.
// A short content hash of the job id is embedded in the callback data
// and checked on press.
func jobFingerprint(jobID string) string {
	sum := sha256.Sum256([]byte(jobID))
	return hex.EncodeToString(sum[:])[:8]
}

// cronSelectorStart builds the initial /cron response.
func (o *Orchestrator) cronSelectorStart() (string, *tgbotapi.InlineKeyboardMarkup) {
	return o.buildCronPage(0, "")
}

// HandleCronCallback routes a crn:* callback and returns the refreshed
// page text and keyboard.
func (o *Orchestrator) HandleCronCallback(ctx context.Context, data string) (string, *tgbotapi.InlineKeyboardMarkup) {
	parts := strings.Split(strings.TrimPrefix(data, CRNPrefix), ":")
	action := parts[0]

	pageArg := func(idx int) int {
		if len(parts) <= idx {
			return 0
		}
		page, err := strconv.Atoi(parts[idx])
		if err != nil {
			return 0
		}
		return page
	}

	switch action {
	case "r":
		return o.buildCronPage(pageArg(1), "")
	case "n":
		return o.buildCronPage(pageArg(1)+1, "")
	case "p":
		return o.buildCronPage(pageArg(1)-1, "")
	case "ao", "af":
		enabled := action == "ao"
		changed, err := o.cronStore.SetAllEnabled(enabled)
		if err != nil {
			slog.Warn("cron bulk toggle failed", "error", err)
			return o.buildCronPage(pageArg(1), "Cron list changed. Please try again.")
		}
		word := "disabled"
		if enabled {
			word = "enabled"
		}
		note := fmt.Sprintf("All cron jobs were already %s.", word)
		if changed {
			note = fmt.Sprintf("All cron jobs %s.", word)
			o.rescheduleCron(ctx)
		}
		return o.buildCronPage(pageArg(1), note)
	case "t":
		if len(parts) >= 4 {
			return o.toggleCronJob(ctx, pageArg(1), pageArg(2), parts[3])
		}
	}

	slog.Warn("unknown cron selector callback", "data", data)
	return o.buildCronPage(0, "Unknown action. Refreshed cron list.")
}

// toggleCronJob flips one job after verifying the button still points
// at the job it was rendered for.
func (o *Orchestrator) toggleCronJob(ctx context.Context, page, slot int, fingerprint string) (string, *tgbotapi.InlineKeyboardMarkup) {
	jobs := o.cronStore.List()
	if len(jobs) == 0 {
		return o.buildCronPage(0, "Cron list changed. Please try again.")
	}

	pageJobs, page, _ := cronPageSlice(jobs, page)
	if slot < 0 || slot >= len(pageJobs) {
		return o.buildCronPage(page, "Cron list changed. Please try again.")
	}
	job := pageJobs[slot]
	if jobFingerprint(job.ID) != fingerprint {
		return o.buildCronPage(page, "Cron list changed. Please try again.")
	}

	changed, err := o.cronStore.SetEnabled(job.ID, !job.Enabled)
	if err != nil || !changed {
		return o.buildCronPage(page, "Cron list changed. Please try again.")
	}
	o.rescheduleCron(ctx)

	word := "disabled"
	if !job.Enabled {
		word = "enabled"
	}
	return o.buildCronPage(page, fmt.Sprintf("'%s' %s.", job.Title, word))
}

func (o *Orchestrator) rescheduleCron(ctx context.Context) {
	if o.cronObserver != nil {
		o.cronObserver.RescheduleNow(ctx)
	}
}

// cronPageSlice clamps page into range and returns the visible jobs,
// the clamped page, and the total page count.
func cronPageSlice(jobs []*cron.Job, page int) ([]*cron.Job, int, int) {
	totalPages := (len(jobs) + cronPageSize - 1) / cronPageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 0 {
		page = 0
	}
	if page > totalPages-1 {
		page = totalPages - 1
	}
	start := page * cronPageSize
	end := start + cronPageSize
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[start:end], page, totalPages
}

// buildCronPage renders one page of the cron job list.
func (o *Orchestrator) buildCronPage(page int, note string) (string, *tgbotapi.InlineKeyboardMarkup) {
	jobs := o.cronStore.List()
	if len(jobs) == 0 {
		text := Blocks(
			"**Scheduled Tasks**",
			Sep,
			"No cron jobs configured.",
			Sep,
			`*Ask your agent: "Run a backup check every day at 9am"*`,
		)
		return text, nil
	}

	pageJobs, page, totalPages := cronPageSlice(jobs, page)
	start := page * cronPageSize

	var jobLines []string
	var rows [][]tgbotapi.InlineKeyboardButton
	for idx, job := range pageJobs {
		n := start + idx + 1
		state := "OFF"
		if job.Enabled {
			state = "ON"
		}
		line := fmt.Sprintf("%d. `%s` `%s` -- %s", n, state, job.Schedule, job.Title)
		if job.LastRunStatus != "" {
			line += fmt.Sprintf(" [%s]", job.LastRunStatus)
		}
		jobLines = append(jobLines, line)

		verb := "Enable"
		if job.Enabled {
			verb = "Disable"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%d. %s", n, verb),
				fmt.Sprintf("crn:t:%d:%d:%s", page, idx, jobFingerprint(job.ID)))))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(
			"<< Prev", fmt.Sprintf("crn:p:%d", page)))
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(
		"Refresh", fmt.Sprintf("crn:r:%d", page)))
	if page < totalPages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(
			"Next >>", fmt.Sprintf("crn:n:%d", page)))
	}
	rows = append(rows, nav)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("All ON", fmt.Sprintf("crn:ao:%d", page)),
		tgbotapi.NewInlineKeyboardButtonData("All OFF", fmt.Sprintf("crn:af:%d", page)),
	))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)

	info := fmt.Sprintf("Page %d/%d · Jobs: %d", page+1, totalPages, len(jobs))
	if note != "" {
		info += "\n" + note
	}

	text := Blocks(
		"**Scheduled Tasks**",
		Sep,
		strings.Join(jobLines, "\n"),
		Sep,
		info,
		"Tap a button to toggle a cron job.",
	)
	return text, &keyboard
}
