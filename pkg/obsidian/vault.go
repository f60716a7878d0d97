package obsidian

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/obs-sync/pkg/model"
)

// inboxHeading is the section created in a new inbox file.
const inboxHeading = "## Tasks"

// Manager is the external collaborator spec.md §6 describes: it walks a
// vault's Markdown files, lists tasks, and applies create/update/delete
// mutations. Grounded on the teacher's orgmode.ParseFiles (walk-then-parse)
// and taskwarrior.Client (the mutation half), generalized to Markdown
// checkbox tasks per original_source/obs_sync/obsidian/tasks.py.
type Manager struct {
	vaultID   string
	root      string
	inboxFile string
}

// NewManager builds a Manager rooted at root, for the named vault.
// inboxFile is the relative path new tasks without a home are appended to.
func NewManager(vaultID, root, inboxFile string) *Manager {
	if inboxFile == "" {
		inboxFile = "inbox.md"
	}
	return &Manager{vaultID: vaultID, root: root, inboxFile: inboxFile}
}

// ListTasks walks the vault and returns every checkbox task found in any
// .md file, skipping dotfiles and dot-directories (e.g. .obsidian).
func (m *Manager) ListTasks() ([]model.ObsidianTask, error) {
	var tasks []model.ObsidianTask

	err := filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != m.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			return nil
		}

		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}

		fileTasks, err := m.parseFileTasks(path, rel)
		if err != nil {
			return fmt.Errorf("obsidian: parse %s: %w", rel, err)
		}
		tasks = append(tasks, fileTasks...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (m *Manager) parseFileTasks(absPath, relPath string) ([]model.ObsidianTask, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime().UTC().Format(time.RFC3339)

	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []model.ObsidianTask
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		pl, ok := parseTaskLine(raw)
		if !ok {
			continue
		}
		tasks = append(tasks, model.ObsidianTask{
			UUID:        stableUUID(pl.blockID),
			VaultID:     m.vaultID,
			FilePath:    relPath,
			LineNumber:  lineNo,
			BlockID:     pl.blockID,
			Status:      pl.status,
			Description: pl.description,
			RawLine:     raw,
			Due:         pl.dueDate,
			Priority:    pl.priority,
			Tags:        pl.tags,
			CreatedAt:   mtime,
			ModifiedAt:  mtime,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// resolveLine re-locates a task's line within its file by BlockID, instead
// of trusting the recorded LineNumber outright. The Python original fails
// update/delete outright when the line number has drifted; this is the
// stronger guarantee spec.md §5 asks of the external manager ("responsible
// for re-resolving block ids before writing"): if the recorded line no
// longer carries the block id, the whole file is scanned for it.
func resolveLine(lines []string, lineNumber int, blockID string) (int, error) {
	idx := lineNumber - 1
	if idx >= 0 && idx < len(lines) {
		if pl, ok := parseTaskLine(lines[idx]); ok && pl.blockID == blockID {
			return idx, nil
		}
	}
	if blockID == "" {
		return -1, fmt.Errorf("obsidian: line %d no longer a task and no block id to recover by", lineNumber)
	}
	for i, line := range lines {
		if pl, ok := parseTaskLine(line); ok && pl.blockID == blockID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("obsidian: block id %q not found, line drifted past recovery", blockID)
}

// AssignBlockID writes a fresh block id onto a task line that was parsed
// without one, and updates t in place. Spec.md §3 requires every task to
// carry a stable id; in apply mode the engine calls this during Collect
// for any task read with BlockID == "" (a dry run leaves such tasks as read).
func (m *Manager) AssignBlockID(t *model.ObsidianTask) error {
	if t.BlockID != "" {
		return nil
	}
	absPath := filepath.Join(m.root, t.FilePath)
	lines, err := readLines(absPath)
	if err != nil {
		return err
	}
	idx := t.LineNumber - 1
	if idx < 0 || idx >= len(lines) {
		return fmt.Errorf("obsidian: assign block id: line %d out of range in %s", t.LineNumber, t.FilePath)
	}
	pl, ok := parseTaskLine(lines[idx])
	if !ok {
		return fmt.Errorf("obsidian: assign block id: line %d in %s is no longer a task", t.LineNumber, t.FilePath)
	}

	t.BlockID = shortBlockID()
	t.UUID = stableUUID(t.BlockID)
	lines[idx] = formatTaskLine(t, pl.indent)

	return writeLines(absPath, lines)
}

// UpdateTask rewrites a task's line in place with the fields carried on
// t. t.FilePath/LineNumber/BlockID identify the line; resolveLine
// re-finds it first in case prior edits in the same run shifted line
// numbers.
func (m *Manager) UpdateTask(t *model.ObsidianTask) error {
	absPath := filepath.Join(m.root, t.FilePath)
	lines, err := readLines(absPath)
	if err != nil {
		return err
	}

	idx, err := resolveLine(lines, t.LineNumber, t.BlockID)
	if err != nil {
		return fmt.Errorf("obsidian: update %s: %w", t.FilePath, err)
	}

	pl, _ := parseTaskLine(lines[idx])
	lines[idx] = formatTaskLine(t, pl.indent)
	t.LineNumber = idx + 1

	return writeLines(absPath, lines)
}

// DeleteTask removes a task's line from its file, re-resolving by block id
// the same way UpdateTask does.
func (m *Manager) DeleteTask(t *model.ObsidianTask) error {
	absPath := filepath.Join(m.root, t.FilePath)
	lines, err := readLines(absPath)
	if err != nil {
		return err
	}

	idx, err := resolveLine(lines, t.LineNumber, t.BlockID)
	if err != nil {
		return fmt.Errorf("obsidian: delete %s: %w", t.FilePath, err)
	}

	lines = append(lines[:idx], lines[idx+1:]...)
	return writeLines(absPath, lines)
}

// CreateTask adds a new task line to the target file (or the vault's
// inbox file if target is empty), assigning a fresh block id when one
// isn't already set. With a heading, the line is inserted at the end of
// that heading's section; the heading itself is appended first if the
// file doesn't carry it yet. Mirrors the original's inbox-header-creation
// behavior: a brand-new inbox file is seeded with a heading first.
func (m *Manager) CreateTask(t *model.ObsidianTask, heading string) error {
	target := t.FilePath
	if target == "" {
		target = m.inboxFile
	}
	if t.BlockID == "" {
		t.BlockID = shortBlockID()
	}
	t.UUID = stableUUID(t.BlockID)

	absPath := filepath.Join(m.root, target)
	lines, err := readLines(absPath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return err
		}
		lines = []string{inboxHeading, ""}
	} else if err != nil {
		return err
	}

	line := formatTaskLine(t, "")
	var at int
	if heading != "" {
		lines, at = insertUnderHeading(lines, heading, line)
	} else {
		lines = append(lines, line)
		at = len(lines)
	}
	if err := writeLines(absPath, lines); err != nil {
		return err
	}

	t.FilePath = target
	t.LineNumber = at
	return nil
}

// insertUnderHeading places line at the end of heading's section (just
// before the next heading, or at EOF), appending the heading first if
// the file doesn't contain it. Returns the new lines and the 1-based
// line number of the insertion.
func insertUnderHeading(lines []string, heading, line string) ([]string, int) {
	start := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == strings.TrimSpace(heading) {
			start = i
			break
		}
	}
	if start < 0 {
		lines = append(lines, heading, line)
		return lines, len(lines)
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#") {
			end = i
			break
		}
	}
	// Back up over trailing blank lines so the task joins the section body.
	for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:end]...)
	out = append(out, line)
	out = append(out, lines[end:]...)
	return out, end + 1
}

func shortBlockID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// stableUUID derives the task's per-run working identity from its block
// id, so it stays stable across runs and survives until the engine
// assigns a real block id to a task that lacks one. Grounded on the
// original's `uuid_value = block_id or uuid.uuid4().hex[:8]`.
func stableUUID(blockID string) string {
	if blockID == "" {
		return "obs-" + shortBlockID()
	}
	return "obs-" + blockID
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// writeLines writes via a temp file + rename so a crash mid-write never
// leaves a truncated vault file, matching the atomic-write requirement
// spec.md §5 places on config/link-store persistence.
func writeLines(path string, lines []string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".obs-sync-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
