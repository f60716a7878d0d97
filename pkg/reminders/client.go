package reminders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/textnorm"
)

// Client talks to Reminders.app through osascript-driven JXA, the same
// exec-and-decode shape as taskwarrior.Client talks to the `task` CLI.
type Client struct {
	osascriptPath string
}

// NewClient returns a Client that invokes the system osascript binary.
func NewClient() *Client {
	return &Client{osascriptPath: "osascript"}
}

func (c *Client) run(script string, args ...string) ([]byte, error) {
	cmdArgs := append([]string{"-l", "JavaScript", "-e", script}, args...)
	cmd := exec.Command(c.osascriptPath, cmdArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("reminders: osascript failed: exit code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("reminders: osascript failed: %w", err)
	}
	return stdout.Bytes(), nil
}

// ListReminders returns every reminder in any of the given lists, the
// expanded query set spec.md §4.5 requires the caller to have already
// computed (model.Config.QueryListIDs).
func (c *Client) ListReminders(listIDs []string) ([]model.RemindersTask, error) {
	if len(listIDs) == 0 {
		return nil, nil
	}
	out, err := c.run(listTasksScript, listIDs...)
	if err != nil {
		return nil, err
	}

	var raw []jxaTask
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("reminders: unmarshal list output: %w", err)
	}

	tasks := make([]model.RemindersTask, 0, len(raw))
	for _, r := range raw {
		tasks = append(tasks, fromJXA(r))
	}
	return tasks, nil
}

func fromJXA(r jxaTask) model.RemindersTask {
	status := model.StatusTodo
	if r.Completed {
		status = model.StatusDone
	}
	notes, tags := textnorm.DecodeTags(r.Body)
	return model.RemindersTask{
		UUID:       r.ID,
		ItemID:     r.ID,
		ListID:     r.ListID,
		ListName:   r.ListName,
		Status:     status,
		Title:      r.Name,
		Due:        parseJXATime(r.DueDate),
		Priority:   model.RemindersPriority(r.Priority),
		Notes:      notes,
		Tags:       tags,
		CreatedAt:  parseJXATime(r.CreatedAt),
		ModifiedAt: parseJXATime(r.ModifiedAt),
	}
}

// CreateReminder creates a reminder in listID and returns its current
// calendar-item id.
func (c *Client) CreateReminder(listID string, t *model.RemindersTask) (string, error) {
	body := textnorm.EncodeTags(t.Notes, t.Tags)
	payload, err := json.Marshal(jxaTask{
		ListID:    listID,
		Name:      t.Title,
		Body:      body,
		Completed: t.Status == model.StatusDone,
		DueDate:   formatJXATime(t.Due),
		Priority:  t.Priority.ToRemindersInt(),
	})
	if err != nil {
		return "", err
	}

	out, err := c.run(createTaskScript, string(payload))
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("reminders: create returned no id")
	}
	return id, nil
}

// UpdateReminder applies field changes to an existing reminder identified
// by its current calendar-item id.
func (c *Client) UpdateReminder(itemID string, t *model.RemindersTask) error {
	body := textnorm.EncodeTags(t.Notes, t.Tags)
	payload, err := json.Marshal(jxaTask{
		ID:        itemID,
		Name:      t.Title,
		Body:      body,
		Completed: t.Status == model.StatusDone,
		DueDate:   formatJXATime(t.Due),
		Priority:  t.Priority.ToRemindersInt(),
	})
	if err != nil {
		return err
	}
	_, err = c.run(updateTaskScript, string(payload))
	return err
}

// DeleteReminder removes a reminder by its current calendar-item id.
func (c *Client) DeleteReminder(itemID string) error {
	_, err := c.run(deleteTaskScript, itemID)
	return err
}

// The JXA bridge scripts below are intentionally minimal: each receives
// its arguments via `run(argv)` and prints one JSON value to stdout.
// They are the Reminders-side analog of the `task export` invocation in
// taskwarrior.Client.GetTasks.
const listTasksScript = `
function run(argv) {
    const Reminders = Application("Reminders");
    Reminders.includeStandardAdditions = true;
    const wanted = new Set(argv);
    const out = [];
    Reminders.lists().forEach(list => {
        if (!wanted.has(list.id())) return;
        list.reminders().forEach(r => {
            out.push({
                id: r.id(),
                listId: list.id(),
                listName: list.name(),
                name: r.name(),
                body: r.body() || "",
                completed: r.completed(),
                dueDate: r.dueDate() ? r.dueDate().toISOString() : null,
                priority: r.priority(),
                creationDate: r.creationDate() ? r.creationDate().toISOString() : null,
                modificationDate: r.modificationDate() ? r.modificationDate().toISOString() : null,
            });
        });
    });
    return JSON.stringify(out);
}
`

const createTaskScript = `
function run(argv) {
    const fields = JSON.parse(argv[0]);
    const Reminders = Application("Reminders");
    const list = Reminders.lists.byId(fields.listId);
    const props = {
        name: fields.name,
        body: fields.body,
        completed: fields.completed,
        priority: fields.priority,
    };
    if (fields.dueDate) props.dueDate = new Date(fields.dueDate);
    const r = Reminders.Reminder(props);
    list.reminders.push(r);
    return r.id();
}
`

const updateTaskScript = `
function run(argv) {
    const fields = JSON.parse(argv[0]);
    const Reminders = Application("Reminders");
    const r = Reminders.reminders.byId(fields.id);
    r.name = fields.name;
    r.body = fields.body;
    r.completed = fields.completed;
    r.priority = fields.priority;
    r.dueDate = fields.dueDate ? new Date(fields.dueDate) : null;
    return "ok";
}
`

const deleteTaskScript = `
function run(argv) {
    const Reminders = Application("Reminders");
    const r = Reminders.reminders.byId(argv[0]);
    Reminders.delete(r);
    return "ok";
}
`
