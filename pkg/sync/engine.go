package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/textnorm"
)

// Direction filters which side a run is allowed to mutate.
type Direction string

const (
	DirBoth     Direction = "both"
	DirObsToRem Direction = "obs-to-rem"
	DirRemToObs Direction = "rem-to-obs"
)

// allows reports whether ops mutating the given store ("obs" or "rem")
// pass this direction filter. obs-to-rem pushes Obsidian state outward,
// so it mutates only the Reminders side, and vice versa.
func (d Direction) allows(store string) bool {
	switch d {
	case DirObsToRem:
		return store == "rem"
	case DirRemToObs:
		return store == "obs"
	default:
		return true
	}
}

// Options configures one engine run.
type Options struct {
	Apply          bool
	Direction      Direction
	ListIDs        []string // explicit query set; empty means compute via config
	NoDedup        bool
	DedupAutoApply bool
}

// OpResult records one applied (or failed) plan operation.
type OpResult struct {
	Op  PlanOp
	Err error
}

// Report is the user-visible outcome of a run, identical in shape for
// dry-run and apply so their rendered output is line-for-line comparable.
type Report struct {
	VaultID      string
	DryRun       bool
	Plan         Plan
	Results      []OpResult
	Diagnostics  []string
	NewLinks     int
	PartialApply bool
	LinksWritten bool
}

// Failures returns the subset of results that errored.
func (r *Report) Failures() []OpResult {
	var out []OpResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// ObsidianManager is the narrow interface the engine consumes the vault
// through; *obsidian.Manager satisfies it, as do the test fakes.
type ObsidianManager interface {
	ListTasks() ([]model.ObsidianTask, error)
	AssignBlockID(t *model.ObsidianTask) error
	CreateTask(t *model.ObsidianTask, heading string) error
	UpdateTask(t *model.ObsidianTask) error
	DeleteTask(t *model.ObsidianTask) error
}

// RemindersGateway is the engine's view of the Reminders side;
// *reminders.Gateway satisfies it.
type RemindersGateway interface {
	ListReminders(ctx context.Context, listIDs []string) ([]model.RemindersTask, error)
	CreateReminder(ctx context.Context, listID string, t *model.RemindersTask) (string, error)
	UpdateReminder(ctx context.Context, itemID string, t *model.RemindersTask) error
	DeleteReminder(ctx context.Context, itemID string) error
}

// Engine orchestrates one full sync pass: collect, normalize links,
// match residuals, resolve conflicts, plan, optionally apply, persist.
// It holds no state between runs beyond the link store.
type Engine struct {
	cfg   *model.Config
	obs   ObsidianManager
	rem   RemindersGateway
	links *LinkStore
	now   func() time.Time
}

// NewEngine wires the engine to its collaborators. now is injectable so
// tests can pin the clock; nil means time.Now.
func NewEngine(cfg *model.Config, obs ObsidianManager, rem RemindersGateway, links *LinkStore, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, obs: obs, rem: rem, links: links, now: now}
}

// Run executes the phases of one sync invocation in strict order and
// returns the report. Fatal errors (authorization, plan inconsistency)
// return a non-nil error alongside whatever report was accumulated.
func (e *Engine) Run(ctx context.Context, vaultID string, opts Options) (*Report, error) {
	if opts.Direction == "" {
		opts.Direction = DirBoth
	}
	report := &Report{VaultID: vaultID, DryRun: !opts.Apply}
	runTime := e.now().UTC()

	// Phase 1: collect.
	obsTasks, err := e.obs.ListTasks()
	if err != nil {
		return report, fmt.Errorf("collect obsidian tasks: %w", err)
	}
	if opts.Apply {
		for i := range obsTasks {
			if obsTasks[i].BlockID == "" {
				if err := e.obs.AssignBlockID(&obsTasks[i]); err != nil {
					report.Diagnostics = append(report.Diagnostics,
						fmt.Sprintf("could not assign block id in %s line %d: %v", obsTasks[i].FilePath, obsTasks[i].LineNumber, err))
				}
			}
		}
	}

	listIDs := opts.ListIDs
	if len(listIDs) == 0 {
		listIDs = e.cfg.QueryListIDs(vaultID)
	}
	var remTasks []model.RemindersTask
	if len(listIDs) > 0 {
		remTasks, err = e.rem.ListReminders(ctx, listIDs)
		if err != nil {
			return report, model.NewSyncError(model.KindAuthorizationFailure, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Phase 2: load links.
	if err := e.links.Load(); err != nil {
		return report, fmt.Errorf("load links: %w", err)
	}

	// Phase 3: normalize links, recovering drifted rem ids before
	// retiring anything.
	links, tombstones, diags := Normalize(e.links.Links(), obsTasks, remTasks, e.cfg.DaysTolerance, runTime)
	report.Diagnostics = append(report.Diagnostics, diags...)

	// Phase 4: partition into linked and unlinked.
	linkedObs := make(map[string]bool, len(links))
	linkedRem := make(map[string]bool, len(links))
	for _, l := range links {
		linkedObs[l.ObsID] = true
		linkedRem[l.RemID] = true
	}
	tombstonedRem := make(map[string]bool)
	tombstonedObs := make(map[string]bool)
	for _, op := range tombstones {
		switch op.Kind {
		case OpDeleteRem:
			tombstonedRem[op.ID] = true
		case OpDeleteObs:
			tombstonedObs[op.ID] = true
		}
	}

	var obsResiduals []model.ObsidianTask
	for _, t := range obsTasks {
		if linkedObs[t.UUID] || tombstonedObs[t.UUID] {
			continue
		}
		if !e.cfg.IncludeCompleted && t.Status == model.StatusDone {
			continue
		}
		obsResiduals = append(obsResiduals, t)
	}
	var remResiduals []model.RemindersTask
	for _, t := range remTasks {
		if linkedRem[t.UUID] || tombstonedRem[t.UUID] {
			continue
		}
		if !e.cfg.IncludeCompleted && t.Status == model.StatusDone {
			continue
		}
		remResiduals = append(remResiduals, t)
	}

	// Phase 5: match residuals.
	matcher := NewMatcher(MatchOptions{MinScore: e.cfg.MinScore, DaysTolerance: e.cfg.DaysTolerance})
	proposed := matcher.Match(obsResiduals, remResiduals)
	report.NewLinks = len(proposed)

	remByID := make(map[string]*model.RemindersTask, len(remTasks))
	for i := range remTasks {
		remByID[remTasks[i].UUID] = &remTasks[i]
	}
	obsByID := make(map[string]*model.ObsidianTask, len(obsTasks))
	for i := range obsTasks {
		obsByID[obsTasks[i].UUID] = &obsTasks[i]
	}

	for i := range proposed {
		proposed[i].CreatedAt = runTime
		if rem := remByID[proposed[i].RemID]; rem != nil {
			proposed[i] = WithRecoveryAnchors(proposed[i], rem)
		}
		linkedObs[proposed[i].ObsID] = true
		linkedRem[proposed[i].RemID] = true
	}
	allLinks := append(append([]model.SyncLink(nil), links...), proposed...)

	if err := checkLinkInvariant(allLinks); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Phase 6: resolve every linked pair whose two sides are both present.
	plan := Plan{}
	resolver := NewResolver()
	for _, l := range allLinks {
		obsTask, okO := obsByID[l.ObsID]
		remTask, okR := remByID[l.RemID]
		if !okO || !okR {
			continue
		}
		winners := resolver.Resolve(obsTask, remTask)
		if len(winners) == 0 {
			continue
		}
		for _, op := range materializeUpdates(obsTask, remTask, winners) {
			if !opts.Direction.allows(op.Kind.store()) {
				continue
			}
			op.PairObsID = l.ObsID
			plan.Ops = append(plan.Ops, op)
		}
	}

	// Phase 7: plan creates for unmatched residuals. A residual whose
	// normalized description collides with an already-linked task is
	// suppressed rather than duplicated into the other store.
	linkedDescs := linkedDescriptions(allLinks, obsByID, remByID)
	routes := e.cfg.TagRoutesForVault(vaultID)
	var defaultListID string
	if m := e.cfg.VaultMappingFor(vaultID); m != nil {
		defaultListID = m.DefaultListID
	}

	for i := range obsResiduals {
		t := &obsResiduals[i]
		if linkedObs[t.UUID] {
			continue
		}
		if !opts.Direction.allows("rem") {
			continue
		}
		if linkedDescs[textnorm.NormalizeDescription(t.Description)] {
			report.Diagnostics = append(report.Diagnostics,
				fmt.Sprintf("suppressed create for %q: description matches a linked task", t.Description))
			continue
		}
		listID, ok := RouteObsidianCreate(t, routes, defaultListID)
		if !ok {
			report.Diagnostics = append(report.Diagnostics,
				fmt.Sprintf("refused create for %q: no matching tag route and no default list", t.Description))
			continue
		}
		plan.Ops = append(plan.Ops, PlanOp{Kind: OpCreateRem, Obs: t, ListID: listID})
	}

	for i := range remResiduals {
		t := &remResiduals[i]
		if linkedRem[t.UUID] {
			continue
		}
		if !opts.Direction.allows("obs") {
			continue
		}
		if linkedDescs[textnorm.NormalizeDescription(t.Title)] {
			report.Diagnostics = append(report.Diagnostics,
				fmt.Sprintf("suppressed create for %q: description matches a linked task", t.Title))
			continue
		}
		targetFile, heading := RouteRemindersCreate(t.ListID, e.cfg.ListRoutes, e.cfg.ObsidianInboxPath)
		plan.Ops = append(plan.Ops, PlanOp{Kind: OpCreateObs, Rem: t, TargetFile: targetFile, Heading: heading})
	}

	// Tombstone deletes from link normalization, filtered by direction.
	for _, op := range tombstones {
		if op.Kind == OpDeleteRem {
			op.Rem = remByID[op.ID]
		}
		if !opts.Direction.allows(op.Kind.store()) {
			continue
		}
		plan.Ops = append(plan.Ops, op)
	}

	// Phase 8: dedupe with the full link set as exclusion.
	if e.cfg.EnableDeduplication && !opts.NoDedup {
		dedup := NewDeduplicator()
		plan.DedupClusters = append(
			dedup.ObsidianClusters(obsTasks, linkedObs),
			dedup.RemindersClusters(remTasks, linkedRem)...,
		)
		if opts.DedupAutoApply || e.cfg.DedupAutoApply {
			plan.Ops = append(plan.Ops, autoDispositionOps(plan.DedupClusters, obsByID, remByID)...)
		}
	}

	plan.Sort()
	report.Plan = plan

	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Phase 9: apply or report.
	if !opts.Apply {
		return report, nil
	}
	allLinks = e.apply(ctx, report, vaultID, allLinks, runTime)
	if err := ctx.Err(); err != nil {
		report.Diagnostics = append(report.Diagnostics, "run cancelled; link file left unchanged")
		return report, err
	}

	// Phase 10: persist links atomically. Skipped when a create
	// succeeded but its returned id is unknown, so a half-known mapping
	// is never written; a create that failed outright leaves its task
	// unlinked and does not block persistence.
	if report.PartialApply {
		for _, f := range report.Failures() {
			if f.Err == errCreateIDMissing {
				report.Diagnostics = append(report.Diagnostics,
					"link file left unchanged: a create returned no id")
				return report, nil
			}
		}
	}
	e.links.Set(allLinks)
	wrote, err := e.links.Save()
	if err != nil {
		return report, fmt.Errorf("persist links: %w", err)
	}
	report.LinksWritten = wrote
	return report, nil
}

// errCreateIDMissing marks a create that reached the store but came back
// without an id, the one failure mode that blocks link persistence.
var errCreateIDMissing = fmt.Errorf("create returned no id")

// apply dispatches the plan best-effort in its sorted order (updates,
// then creates, then deletes) and returns the link set as amended by
// successful creates and last_synced bumps.
func (e *Engine) apply(ctx context.Context, report *Report, vaultID string, links []model.SyncLink, runTime time.Time) []model.SyncLink {
	failedPair := make(map[string]bool)
	for _, op := range report.Plan.Ops {
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, OpResult{Op: op, Err: err})
			report.PartialApply = true
			if op.PairObsID != "" {
				failedPair[op.PairObsID] = true
			}
			continue
		}

		var err error
		switch op.Kind {
		case OpUpdateObs:
			err = e.obs.UpdateTask(op.Obs)
		case OpUpdateRem:
			err = e.rem.UpdateReminder(ctx, op.Rem.ItemID, op.Rem)
		case OpCreateRem:
			links, err = e.applyCreateRem(ctx, op, links, runTime)
		case OpCreateObs:
			links, err = e.applyCreateObs(op, vaultID, links, runTime)
		case OpDeleteObs:
			err = e.obs.DeleteTask(op.Obs)
		case OpDeleteRem:
			id := op.ID
			if op.Rem != nil {
				id = op.Rem.ItemID
			}
			err = e.rem.DeleteReminder(ctx, id)
		}

		report.Results = append(report.Results, OpResult{Op: op, Err: err})
		if err != nil {
			report.PartialApply = true
			if op.PairObsID != "" {
				failedPair[op.PairObsID] = true
			}
		}
	}

	// Bump last_synced on every pair whose ops all succeeded, including
	// pairs that needed no ops at all.
	for i := range links {
		if !failedPair[links[i].ObsID] && !links[i].IsStale() {
			t := runTime
			links[i].LastSynced = &t
		}
	}
	return links
}

func (e *Engine) applyCreateRem(ctx context.Context, op PlanOp, links []model.SyncLink, runTime time.Time) ([]model.SyncLink, error) {
	remTask := &model.RemindersTask{
		ListID:   op.ListID,
		Status:   op.Obs.Status,
		Title:    op.Obs.Description,
		Due:      op.Obs.Due,
		Priority: op.Obs.Priority,
		Notes:    op.Obs.Notes,
		Tags:     op.Obs.Tags,
	}
	id, err := e.rem.CreateReminder(ctx, op.ListID, remTask)
	if err != nil {
		return links, err
	}
	if id == "" {
		return links, errCreateIDMissing
	}
	remTask.UUID = id
	remTask.ItemID = id
	link := model.SyncLink{ObsID: op.Obs.UUID, RemID: id, Score: 1.0, CreatedAt: runTime}
	t := runTime
	link.LastSynced = &t
	return append(links, WithRecoveryAnchors(link, remTask)), nil
}

func (e *Engine) applyCreateObs(op PlanOp, vaultID string, links []model.SyncLink, runTime time.Time) ([]model.SyncLink, error) {
	obsTask := &model.ObsidianTask{
		VaultID:     vaultID,
		FilePath:    op.TargetFile,
		Status:      op.Rem.Status,
		Description: op.Rem.Title,
		Due:         op.Rem.Due,
		Priority:    op.Rem.Priority,
		Tags:        op.Rem.Tags,
		Notes:       op.Rem.Notes,
	}
	if err := e.obs.CreateTask(obsTask, op.Heading); err != nil {
		return links, err
	}
	if obsTask.UUID == "" {
		return links, errCreateIDMissing
	}
	link := model.SyncLink{ObsID: obsTask.UUID, RemID: op.Rem.UUID, Score: 1.0, CreatedAt: runTime}
	t := runTime
	link.LastSynced = &t
	return append(links, WithRecoveryAnchors(link, op.Rem)), nil
}

// materializeUpdates turns the resolver's winner map into concrete update
// ops carrying fully-amended task copies, so apply only has to hand the
// task to the right manager.
func materializeUpdates(obs *model.ObsidianTask, rem *model.RemindersTask, winners map[FieldName]FieldWinner) []PlanOp {
	obsCopy := *obs
	remCopy := *rem
	obsDirty, remDirty := false, false

	for field, w := range winners {
		switch field {
		case FieldStatus:
			if w.Winner == SideRem {
				obsCopy.Status = rem.Status
				obsDirty = true
			} else {
				remCopy.Status = obs.Status
				remDirty = true
			}
		case FieldDescription:
			if w.Winner == SideRem {
				obsCopy.Description = rem.Title
				obsDirty = true
			} else {
				remCopy.Title = obs.Description
				remDirty = true
			}
		case FieldDue:
			if w.Winner == SideRem {
				obsCopy.Due = rem.Due
				obsDirty = true
			} else {
				remCopy.Due = obs.Due
				remDirty = true
			}
		case FieldPriority:
			if w.Winner == SideRem {
				obsCopy.Priority = rem.Priority
				obsDirty = true
			} else {
				remCopy.Priority = obs.Priority
				remDirty = true
			}
		case FieldNotes:
			if w.Winner == SideRem {
				obsCopy.Notes = rem.Notes
				obsDirty = true
			} else {
				remCopy.Notes = obs.Notes
				remDirty = true
			}
		case FieldTags:
			switch w.Winner {
			case SideNone: // union; both sides rewritten
				merged := w.Value.([]string)
				obsCopy.Tags = merged
				remCopy.Tags = merged
				obsDirty = true
				remDirty = true
			case SideRem:
				obsCopy.Tags = rem.Tags
				obsDirty = true
			default:
				remCopy.Tags = obs.Tags
				remDirty = true
			}
		}
	}

	var ops []PlanOp
	if obsDirty {
		ops = append(ops, PlanOp{Kind: OpUpdateObs, ID: obs.UUID, Obs: &obsCopy, Fields: winners})
	}
	if remDirty {
		ops = append(ops, PlanOp{Kind: OpUpdateRem, ID: rem.UUID, Rem: &remCopy, Fields: winners})
	}
	return ops
}

// linkedDescriptions collects the normalized descriptions of every task
// participating in a link, for the create-suppression rule.
func linkedDescriptions(links []model.SyncLink, obsByID map[string]*model.ObsidianTask, remByID map[string]*model.RemindersTask) map[string]bool {
	out := make(map[string]bool)
	for _, l := range links {
		if t, ok := obsByID[l.ObsID]; ok {
			out[textnorm.NormalizeDescription(t.Description)] = true
		}
		if t, ok := remByID[l.RemID]; ok {
			out[textnorm.NormalizeDescription(t.Title)] = true
		}
	}
	return out
}

// checkLinkInvariant enforces the 1:1 rule over the would-be-persisted
// link set; a violation is a PlanInconsistency and fatal.
func checkLinkInvariant(links []model.SyncLink) error {
	obsSeen := make(map[string]bool, len(links))
	remSeen := make(map[string]bool, len(links))
	for _, l := range links {
		if obsSeen[l.ObsID] {
			return model.NewSyncError(model.KindPlanInconsistency,
				fmt.Errorf("obs id %s appears on two links", l.ObsID))
		}
		if remSeen[l.RemID] {
			return model.NewSyncError(model.KindPlanInconsistency,
				fmt.Errorf("rem id %s appears on two links", l.RemID))
		}
		obsSeen[l.ObsID] = true
		remSeen[l.RemID] = true
	}
	return nil
}

// autoDispositionOps keeps each cluster's first member (lowest UUID) and
// deletes the rest, the configured auto-apply disposition.
func autoDispositionOps(clusters []DuplicateCluster, obsByID map[string]*model.ObsidianTask, remByID map[string]*model.RemindersTask) []PlanOp {
	var ops []PlanOp
	for _, c := range clusters {
		members := append([]DuplicateMember(nil), c.Members...)
		sort.Slice(members, func(i, j int) bool { return members[i].UUID < members[j].UUID })
		for _, m := range members[1:] {
			if t, ok := obsByID[m.UUID]; ok {
				ops = append(ops, PlanOp{Kind: OpDeleteObs, ID: m.UUID, Obs: t})
			} else if t, ok := remByID[m.UUID]; ok {
				ops = append(ops, PlanOp{Kind: OpDeleteRem, ID: m.UUID, Rem: t})
			}
		}
	}
	return ops
}

// DispositionOps is the interactive counterpart of autoDispositionOps:
// given a decision vector from the prompt, emit the delete ops for the
// non-kept members of decided clusters.
func DispositionOps(clusters []DuplicateCluster, decisions map[string][]string, obsTasks []model.ObsidianTask, remTasks []model.RemindersTask) []PlanOp {
	obsByID := make(map[string]*model.ObsidianTask, len(obsTasks))
	for i := range obsTasks {
		obsByID[obsTasks[i].UUID] = &obsTasks[i]
	}
	remByID := make(map[string]*model.RemindersTask, len(remTasks))
	for i := range remTasks {
		remByID[remTasks[i].UUID] = &remTasks[i]
	}

	var ops []PlanOp
	for _, id := range ApplyDisposition(clusters, decisions) {
		if t, ok := obsByID[id]; ok {
			ops = append(ops, PlanOp{Kind: OpDeleteObs, ID: id, Obs: t})
		} else if t, ok := remByID[id]; ok {
			ops = append(ops, PlanOp{Kind: OpDeleteRem, ID: id, Rem: t})
		}
	}
	return ops
}
