package sync

import (
	"sort"
	"strconv"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/textnorm"
)

// DuplicateMember is one task's representation within a cluster, with
// enough context (per spec.md §4.6) for a human to choose which to keep.
type DuplicateMember struct {
	UUID     string
	Location string // file path or list name
	Position string // "line N" or heading
	Due      string // formatted, empty if absent
	Status   model.TaskStatus
}

// DuplicateCluster groups two or more tasks within one store whose
// normalized descriptions are byte-equal.
type DuplicateCluster struct {
	ClusterID   string
	Description string
	Members     []DuplicateMember
}

// Deduplicator groups same-store tasks by normalized description,
// excluding anything already linked. Grounded on
// original_source/obs_sync/sync/deduplicator.py's TaskDeduplicator,
// narrowed to spec.md §4.6's single-store contract (the original also
// special-cases same-list Reminders duplicates even when linked; spec.md
// draws a simpler line: exclude every linked id, full stop).
type Deduplicator struct{}

// NewDeduplicator returns a Deduplicator. Stateless; see Resolver for why
// this is still a pointer-receiver type.
func NewDeduplicator() *Deduplicator { return &Deduplicator{} }

// ObsidianClusters groups Obsidian tasks not present in linkedObsIDs.
func (d *Deduplicator) ObsidianClusters(tasks []model.ObsidianTask, linkedObsIDs map[string]bool) []DuplicateCluster {
	groups := make(map[string][]DuplicateMember)
	for _, t := range tasks {
		if linkedObsIDs[t.UUID] {
			continue
		}
		key := textnorm.NormalizeDescription(t.Description)
		due := ""
		if t.Due != nil {
			due = t.Due.Format("2006-01-02")
		}
		groups[key] = append(groups[key], DuplicateMember{
			UUID:     t.UUID,
			Location: t.FilePath,
			Position: lineLabel(t.LineNumber),
			Due:      due,
			Status:   t.Status,
		})
	}
	return buildClusters(groups)
}

// RemindersClusters groups Reminders tasks not present in linkedRemIDs.
func (d *Deduplicator) RemindersClusters(tasks []model.RemindersTask, linkedRemIDs map[string]bool) []DuplicateCluster {
	groups := make(map[string][]DuplicateMember)
	for _, t := range tasks {
		if linkedRemIDs[t.UUID] {
			continue
		}
		key := textnorm.NormalizeDescription(t.Title)
		due := ""
		if t.Due != nil {
			due = t.Due.Format("2006-01-02")
		}
		groups[key] = append(groups[key], DuplicateMember{
			UUID:     t.UUID,
			Location: t.ListName,
			Position: "",
			Due:      due,
			Status:   t.Status,
		})
	}
	return buildClusters(groups)
}

func lineLabel(n int) string {
	if n <= 0 {
		return ""
	}
	return "line " + strconv.Itoa(n)
}

func buildClusters(groups map[string][]DuplicateMember) []DuplicateCluster {
	var clusters []DuplicateCluster
	for desc, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].UUID < members[j].UUID })
		clusters = append(clusters, DuplicateCluster{
			ClusterID:   desc,
			Description: desc,
			Members:     members,
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })
	return clusters
}

// ApplyDisposition turns a decision vector {cluster_id -> kept_member_ids}
// into the set of member UUIDs to delete: every member of every decided
// cluster not in its kept set.
func ApplyDisposition(clusters []DuplicateCluster, decisions map[string][]string) []string {
	var toDelete []string
	for _, c := range clusters {
		kept, decided := decisions[c.ClusterID]
		if !decided {
			continue
		}
		keptSet := make(map[string]bool, len(kept))
		for _, id := range kept {
			keptSet[id] = true
		}
		for _, m := range c.Members {
			if !keptSet[m.UUID] {
				toDelete = append(toDelete, m.UUID)
			}
		}
	}
	sort.Strings(toDelete)
	return toDelete
}
