// Package reminders is the external collaborator that reads and mutates
// Apple Reminders lists. Spec.md §6 names it the "Reminders gateway";
// this package is its concrete implementation, shelling out to
// osascript/JXA the way the teacher's taskwarrior package shells out to
// the `task` binary.
package reminders

import "time"

// jxaTask is the wire shape the JXA bridge script emits per reminder,
// mirroring taskwarrior.Task's role as the exec-boundary JSON struct.
type jxaTask struct {
	ID         string  `json:"id"`
	ListID     string  `json:"listId"`
	ListName   string  `json:"listName"`
	Name       string  `json:"name"`
	Body       string  `json:"body"`
	Completed  bool    `json:"completed"`
	DueDate    *string `json:"dueDate"`
	Priority   int     `json:"priority"`
	CreatedAt  *string `json:"creationDate"`
	ModifiedAt *string `json:"modificationDate"`
}

// jxaTimeLayout is the format the JXA bridge renders EventKit/Scripting
// Bridge dates as, the Reminders-side analog of taskwarrior's CustomTime
// wire format.
const jxaTimeLayout = "2006-01-02T15:04:05Z0700"

func parseJXATime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(jxaTimeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}

func formatJXATime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(jxaTimeLayout)
	return &s
}
