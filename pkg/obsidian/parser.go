// Package obsidian is the external collaborator that reads and mutates
// the Obsidian vault's Markdown files. Spec.md §1 puts "Markdown parsing
// and file mutation" out of the sync engine's scope; this package is the
// narrow interface the engine is consumed through (see Manager).
//
// Grounded on the teacher's orgmode.Parse (regex-per-field line parsing,
// accumulate-into-struct-while-scanning) generalized from Org-mode TODO
// lines to Obsidian checkbox tasks, per original_source/obs_sync/obsidian/parser.go.
package obsidian

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

var (
	taskRe       = regexp.MustCompile(`^(\s*)[-*]\s+\[([xX ])\]\s+(.*)$`)
	blockIDRe    = regexp.MustCompile(`\^([a-zA-Z0-9-]+)\s*$`)
	dueDateRe    = regexp.MustCompile(`📅\s*(\d{4}-\d{1,2}-\d{1,2})`)
	completionRe = regexp.MustCompile(`✅\s*(\d{4}-\d{1,2}-\d{1,2})`)
	priorityRe   = regexp.MustCompile(`[⏫🔼🔽]`)
	tagRe        = regexp.MustCompile(`#([a-zA-Z0-9_\-/]+)`)
)

var prioritySymbols = map[string]model.Priority{
	"⏫": model.PriorityHigh,
	"🔼": model.PriorityMedium,
	"🔽": model.PriorityLow,
}

var priorityGlyphs = map[model.Priority]string{
	model.PriorityHigh:   "⏫",
	model.PriorityMedium: "🔼",
	model.PriorityLow:    "🔽",
}

// parsedLine is the intermediate result of parsing one Markdown line,
// before it is wrapped into a model.ObsidianTask with file/vault context.
type parsedLine struct {
	indent         string
	status         model.TaskStatus
	description    string
	blockID        string
	dueDate        *time.Time
	completionDate *time.Time
	priority       model.Priority
	tags           []string
}

// parseTaskLine parses one raw Markdown line into its task components, or
// returns (nil, false) if the line is not a checkbox task.
func parseTaskLine(line string) (*parsedLine, bool) {
	m := taskRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	indent := m[1]
	statusChar := m[2]
	content := m[3]

	status := model.StatusTodo
	if strings.EqualFold(statusChar, "x") {
		status = model.StatusDone
	}

	var blockID string
	if bm := blockIDRe.FindStringSubmatchIndex(content); bm != nil {
		blockID = content[bm[2]:bm[3]]
		content = strings.TrimRight(content[:bm[0]], " \t")
	}

	var completionDate *time.Time
	if cm := completionRe.FindStringSubmatch(content); cm != nil {
		if d, err := parseDate(cm[1]); err == nil {
			completionDate = &d
		}
		content = strings.TrimSpace(completionRe.ReplaceAllString(content, ""))
	}

	var dueDate *time.Time
	if dm := dueDateRe.FindStringSubmatch(content); dm != nil {
		if d, err := parseDate(dm[1]); err == nil {
			dueDate = &d
		}
		content = strings.TrimSpace(dueDateRe.ReplaceAllString(content, ""))
	}

	priority := model.PriorityNone
	if pm := priorityRe.FindString(content); pm != "" {
		priority = prioritySymbols[pm]
		content = strings.TrimSpace(priorityRe.ReplaceAllString(content, ""))
	}

	var tags []string
	for _, tm := range tagRe.FindAllStringSubmatch(content, -1) {
		tags = append(tags, "#"+tm[1])
	}
	description := strings.TrimSpace(tagRe.ReplaceAllString(content, ""))

	return &parsedLine{
		indent:         indent,
		status:         status,
		description:    description,
		blockID:        blockID,
		dueDate:        dueDate,
		completionDate: completionDate,
		priority:       priority,
		tags:           tags,
	}, true
}

func parseDate(s string) (time.Time, error) {
	// Tolerate single-digit month/day, mirroring the original's fallback.
	parts := strings.Split(s, "-")
	if len(parts) == 3 {
		y, err1 := strconv.Atoi(parts[0])
		mo, err2 := strconv.Atoi(parts[1])
		d, err3 := strconv.Atoi(parts[2])
		if err1 == nil && err2 == nil && err3 == nil {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Parse("2006-01-02", s)
}

// formatTaskLine is the inverse of parseTaskLine: render a task back into
// its Markdown line form, used by create and update.
func formatTaskLine(t *model.ObsidianTask, indent string) string {
	statusChar := " "
	if t.Status == model.StatusDone {
		statusChar = "x"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s- [%s] %s", indent, statusChar, t.Description)

	for _, tag := range t.Tags {
		fmt.Fprintf(&b, " %s", tag)
	}
	if t.Priority != model.PriorityNone {
		if glyph, ok := priorityGlyphs[t.Priority]; ok {
			fmt.Fprintf(&b, " %s", glyph)
		}
	}
	if t.Due != nil {
		fmt.Fprintf(&b, " 📅 %s", t.Due.Format("2006-01-02"))
	}
	if t.Status == model.StatusDone {
		fmt.Fprintf(&b, " ✅ %s", time.Now().UTC().Format("2006-01-02"))
	}
	if t.BlockID != "" {
		fmt.Fprintf(&b, " ^%s", t.BlockID)
	}
	return b.String()
}
