package sync

import (
	"log"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/textnorm"
	"github.com/harrisonrobin/obs-sync/pkg/timeval"
)

// Side identifies which store's value won a field, or that the field
// needed no change.
type Side string

const (
	SideNone Side = "none"
	SideObs  Side = "obs"
	SideRem  Side = "rem"
)

// FieldName enumerates the fields the resolver considers, per spec.md
// §4.3: "description, status, due, priority, tags, notes".
type FieldName string

const (
	FieldDescription FieldName = "description"
	FieldStatus       FieldName = "status"
	FieldDue          FieldName = "due"
	FieldPriority     FieldName = "priority"
	FieldTags         FieldName = "tags"
	FieldNotes        FieldName = "notes"
)

// FieldWinner is one entry of the resolver's output map: which side's
// value should be written, and what that value is.
type FieldWinner struct {
	Winner Side
	Value  interface{}
}

// Resolver computes per-field conflict resolution for a matched pair.
// Grounded on original_source/obs_sync/sync/resolver.py's ConflictResolver,
// adapted to spec.md §4.3's exact tie-break (Obsidian wins content fields
// on a tie, Reminders only wins completion when strictly later) in place
// of the original's uniform symmetric comparison.
type Resolver struct{}

// NewResolver returns a Resolver. It carries no state; a value receiver
// would do as well, but the teacher's components are consistently
// pointer-receiver types, so this follows suit.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve compares every field spec.md §4.3 names and returns the winners
// for fields that differ. An empty map means the pair is already in sync.
func (r *Resolver) Resolve(obs *model.ObsidianTask, rem *model.RemindersTask) map[FieldName]FieldWinner {
	obsTime := timeval.FromISO(obs.ModifiedAt)
	if _, ok := obsTime.Time(); !ok && !obsTime.IsAbsent() {
		// An unparseable timestamp degrades to absent, never silently.
		log.Printf("resolver: unparseable obsidian modified_at %q on %s; treating as absent", obs.ModifiedAt, obs.UUID)
	}
	var remTime timeval.Timestamp
	if rem.ModifiedAt != nil {
		remTime = timeval.FromNative(*rem.ModifiedAt)
	} else {
		remTime = timeval.Absent
	}

	out := make(map[FieldName]FieldWinner)
	content := func(obsVal, remVal interface{}) FieldWinner {
		if r.resolveContent(obsTime, remTime).Winner == SideRem {
			return FieldWinner{Winner: SideRem, Value: remVal}
		}
		return FieldWinner{Winner: SideObs, Value: obsVal}
	}

	if obs.Status != rem.Status {
		out[FieldStatus] = r.resolveStatus(obs.Status, rem.Status, obsTime, remTime)
	}
	if textnorm.NormalizeDescription(obs.Description) != textnorm.NormalizeDescription(rem.Title) {
		out[FieldDescription] = content(obs.Description, rem.Title)
	}
	if !model.SameDay(obs.DueDay(), rem.DueDay()) {
		out[FieldDue] = content(obs.Due, rem.Due)
	}
	if obs.Priority != rem.Priority {
		out[FieldPriority] = content(obs.Priority, rem.Priority)
	}
	if winner := r.resolveTags(obs.Tags, rem.Tags, obsTime, remTime); winner != nil {
		out[FieldTags] = *winner
	}
	if obs.Notes != rem.Notes {
		out[FieldNotes] = content(obs.Notes, rem.Notes)
	}

	return out
}

// resolveContent is the rule for description/due/priority/tags/notes: the
// strictly-later side wins; on a tie or missing timestamps, Obsidian wins.
func (r *Resolver) resolveContent(obsTime, remTime timeval.Timestamp) FieldWinner {
	switch timestampWinner(obsTime, remTime) {
	case "rem":
		return FieldWinner{Winner: SideRem}
	default:
		return FieldWinner{Winner: SideObs}
	}
}

// resolveStatus is the completion-status rule: Reminders wins only if its
// modified_at strictly postdates Obsidian's; otherwise Obsidian wins (the
// asymmetry spec.md §4.3 calls out explicitly, since Obsidian-wins-on-tie
// is the default content rule and completion is no exception on the
// Obsidian side).
func (r *Resolver) resolveStatus(obsStatus, remStatus model.TaskStatus, obsTime, remTime timeval.Timestamp) FieldWinner {
	if timestampWinner(obsTime, remTime) == "rem" {
		return FieldWinner{Winner: SideRem, Value: remStatus}
	}
	return FieldWinner{Winner: SideObs, Value: obsStatus}
}

// resolveTags applies the union rule when both sides changed tags
// (neither is empty and they differ from some prior common baseline is
// not observable here, so per spec.md §4.3 we treat "both sides have a
// non-empty, differing tag set" as "both changed" and union them);
// otherwise falls back to the timestamp rule.
func (r *Resolver) resolveTags(obsTags, remTags []string, obsTime, remTime timeval.Timestamp) *FieldWinner {
	if !textnorm.TagSetsDiffer(obsTags, remTags) {
		return nil
	}
	if len(obsTags) > 0 && len(remTags) > 0 {
		return &FieldWinner{Winner: SideNone, Value: textnorm.MergeTags(obsTags, remTags)}
	}
	w := r.resolveContent(obsTime, remTime)
	if w.Winner == SideRem {
		w.Value = remTags
	} else {
		w.Value = obsTags
	}
	return &w
}
