package sync

import (
	"sort"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

// OpKind is the action a PlanOp represents.
type OpKind string

const (
	OpUpdateObs OpKind = "update_obs"
	OpUpdateRem OpKind = "update_rem"
	OpCreateObs OpKind = "create_obs"
	OpCreateRem OpKind = "create_rem"
	OpDeleteObs OpKind = "delete_obs"
	OpDeleteRem OpKind = "delete_rem"
)

// store identifies which side an op targets, used for the (store, id)
// sort key spec.md §4.1/§5 require and by the engine's direction filter.
func (k OpKind) store() string {
	switch k {
	case OpUpdateObs, OpCreateObs, OpDeleteObs:
		return "obs"
	default:
		return "rem"
	}
}

// category groups an OpKind into updates/creates/deletes for the
// updates-before-creates-before-deletes ordering.
func (k OpKind) category() int {
	switch k {
	case OpUpdateObs, OpUpdateRem:
		return 0
	case OpCreateObs, OpCreateRem:
		return 1
	default:
		return 2
	}
}

// PlanOp is one proposed mutation. ID is the task id being acted on
// (empty for a create, where Obs or Rem carries the source task's fields
// instead); Fields carries the resolver's winning values for an update.
type PlanOp struct {
	Kind   OpKind
	ID     string
	Obs    *model.ObsidianTask
	Rem    *model.RemindersTask
	Fields map[FieldName]FieldWinner

	// ListID/TargetFile/Heading are populated on create ops by the route
	// dispatcher.
	ListID     string
	TargetFile string
	Heading    string

	// PairObsID names the link this update op belongs to, so apply can
	// bump last_synced only on pairs whose ops all succeeded.
	PairObsID string
}

// sortKey is the (store, id) pair ordering guarantees are sorted by.
func (op PlanOp) sortKey() (string, string) {
	if op.ID != "" {
		return op.Kind.store(), op.ID
	}
	// Creates have no id yet; fall back to a stable proxy so dry-run
	// output is still deterministic across runs over identical inputs.
	if op.Obs != nil {
		return op.Kind.store(), op.Obs.Description
	}
	if op.Rem != nil {
		return op.Kind.store(), op.Rem.Title
	}
	return op.Kind.store(), ""
}

// Plan is the deterministic set of operations one engine run proposes.
type Plan struct {
	Ops            []PlanOp
	DedupClusters  []DuplicateCluster
}

// Sort orders Ops per spec.md §4.1/§5: updates precede creates precede
// deletes; within each category, sorted by (store, id).
func (p *Plan) Sort() {
	sort.SliceStable(p.Ops, func(i, j int) bool {
		a, b := p.Ops[i], p.Ops[j]
		if a.Kind.category() != b.Kind.category() {
			return a.Kind.category() < b.Kind.category()
		}
		as, ai := a.sortKey()
		bs, bi := b.sortKey()
		if as != bs {
			return as < bs
		}
		return ai < bi
	})
}

// IsEmpty reports whether this plan has no operations (the idempotence
// property spec.md §8 tests for: re-running after apply yields this).
func (p *Plan) IsEmpty() bool {
	return len(p.Ops) == 0
}

// Counts returns per-category counts for the report.
func (p *Plan) Counts() (updates, createsObs, createsRem, deletes int) {
	for _, op := range p.Ops {
		switch op.Kind {
		case OpUpdateObs, OpUpdateRem:
			updates++
		case OpCreateObs:
			createsObs++
		case OpCreateRem:
			createsRem++
		case OpDeleteObs, OpDeleteRem:
			deletes++
		}
	}
	return
}
