package obsidian

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

func writeVaultFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListTasksWalksVault(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "daily/2025-01-10.md", "# Daily\n- [ ] Buy milk ^m1\n- [x] Done thing ^d1\nprose\n")
	writeVaultFile(t, root, "projects/report.md", "- [ ] Write report #work ^w1\n")
	writeVaultFile(t, root, ".obsidian/workspace.md", "- [ ] Should be skipped\n")

	m := NewManager("V", root, "inbox.md")
	tasks, err := m.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d: %+v", len(tasks), tasks)
	}
	for _, task := range tasks {
		if strings.Contains(task.FilePath, ".obsidian") {
			t.Fatalf("dot-directory file leaked into the task list: %+v", task)
		}
		if task.UUID == "" {
			t.Fatalf("task without a working id: %+v", task)
		}
	}
}

func TestUpdateTaskRelocatesByBlockID(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "notes.md", "intro\n- [ ] Target task ^t1\n")

	m := NewManager("V", root, "inbox.md")
	tasks, err := m.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	task := tasks[0]

	// A prior edit shifted the line: the recorded number now points at prose.
	writeVaultFile(t, root, "notes.md", "intro\nmore prose\n- [ ] Target task ^t1\n")

	task.Status = model.StatusDone
	if err := m.UpdateTask(&task); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "- [x] Target task") {
		t.Fatalf("expected the drifted line updated, got:\n%s", data)
	}
	if task.LineNumber != 3 {
		t.Fatalf("expected line number re-resolved to 3, got %d", task.LineNumber)
	}
}

func TestCreateTaskSeedsInbox(t *testing.T) {
	root := t.TempDir()
	m := NewManager("V", root, "inbox.md")

	task := &model.ObsidianTask{Status: model.StatusTodo, Description: "From reminders"}
	if err := m.CreateTask(task, ""); err != nil {
		t.Fatal(err)
	}
	if task.UUID == "" || task.BlockID == "" {
		t.Fatalf("create must assign ids, got %+v", task)
	}

	data, err := os.ReadFile(filepath.Join(root, "inbox.md"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, inboxHeading) {
		t.Fatalf("new inbox file missing heading:\n%s", content)
	}
	if !strings.Contains(content, "From reminders") || !strings.Contains(content, "^"+task.BlockID) {
		t.Fatalf("created task line missing:\n%s", content)
	}
}

func TestDeleteTaskRemovesLine(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "notes.md", "- [ ] Keep me ^k1\n- [ ] Delete me ^d1\n")

	m := NewManager("V", root, "inbox.md")
	tasks, err := m.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	var target model.ObsidianTask
	for _, task := range tasks {
		if task.BlockID == "d1" {
			target = task
		}
	}
	if err := m.DeleteTask(&target); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.md"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "Delete me") {
		t.Fatalf("expected line removed, got:\n%s", data)
	}
	if !strings.Contains(string(data), "Keep me") {
		t.Fatalf("neighbor line lost:\n%s", data)
	}
}

func TestCreateTaskUnderHeading(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "Work.md", "# Work\n\n## Inbox\n- [ ] Existing ^e1\n\n## Done\n- [x] Old ^o1\n")

	m := NewManager("V", root, "inbox.md")
	task := &model.ObsidianTask{Status: model.StatusTodo, Description: "Routed in", FilePath: "Work.md"}
	if err := m.CreateTask(task, "## Inbox"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "Work.md"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(data), "\n")
	var inboxIdx, newIdx, doneIdx int
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "## Inbox"):
			inboxIdx = i
		case strings.Contains(l, "Routed in"):
			newIdx = i
		case strings.HasPrefix(l, "## Done"):
			doneIdx = i
		}
	}
	if !(inboxIdx < newIdx && newIdx < doneIdx) {
		t.Fatalf("expected new task inside the Inbox section, got:\n%s", data)
	}
}

func TestAssignBlockID(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "notes.md", "- [ ] No id yet\n")

	m := NewManager("V", root, "inbox.md")
	tasks, err := m.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	task := tasks[0]
	if task.BlockID != "" {
		t.Fatalf("precondition: task should lack a block id")
	}

	if err := m.AssignBlockID(&task); err != nil {
		t.Fatal(err)
	}
	if task.BlockID == "" {
		t.Fatalf("expected a block id assigned")
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "^"+task.BlockID) {
		t.Fatalf("block id not written back:\n%s", data)
	}
}
