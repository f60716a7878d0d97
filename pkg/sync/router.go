package sync

import (
	"strings"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

// RouteObsidianCreate chooses the destination Reminders list for a task
// originating in Obsidian: the first tag (in the order it appeared on
// the line) that matches a configured route wins; otherwise the vault's
// default list. An empty result with ok=false means neither exists and
// the create must be refused (spec.md §4.5, ConfigurationError).
func RouteObsidianCreate(task *model.ObsidianTask, routes []model.TagRoute, defaultListID string) (string, bool) {
	for _, tag := range task.Tags {
		for _, r := range routes {
			// Parsed tags carry the # prefix; configured routes may not.
			if strings.TrimPrefix(r.Tag, "#") == strings.TrimPrefix(tag, "#") {
				return r.ListID, true
			}
		}
	}
	if defaultListID != "" {
		return defaultListID, true
	}
	return "", false
}

// RouteRemindersCreate chooses the destination Obsidian file/heading for
// a task originating in Reminders: the configured list route, else the
// vault's inbox file with no heading.
func RouteRemindersCreate(listID string, listRoutes []model.ListRoute, inboxFile string) (targetFile, heading string) {
	for _, r := range listRoutes {
		if r.ListID == listID {
			return r.TargetFile, r.Heading
		}
	}
	return inboxFile, ""
}
