package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

// fakeObs is an in-memory ObsidianManager.
type fakeObs struct {
	tasks   []model.ObsidianTask
	nextID  int
	deleted []string
}

func (f *fakeObs) ListTasks() ([]model.ObsidianTask, error) {
	return append([]model.ObsidianTask(nil), f.tasks...), nil
}

func (f *fakeObs) AssignBlockID(t *model.ObsidianTask) error { return nil }

func (f *fakeObs) CreateTask(t *model.ObsidianTask, heading string) error {
	f.nextID++
	t.UUID = fmt.Sprintf("obs-new-%d", f.nextID)
	t.BlockID = t.UUID
	f.tasks = append(f.tasks, *t)
	return nil
}

func (f *fakeObs) UpdateTask(t *model.ObsidianTask) error {
	for i := range f.tasks {
		if f.tasks[i].UUID == t.UUID {
			mod := time.Now().UTC().Format(time.RFC3339)
			f.tasks[i] = *t
			f.tasks[i].ModifiedAt = mod
			return nil
		}
	}
	return fmt.Errorf("no such task %s", t.UUID)
}

func (f *fakeObs) DeleteTask(t *model.ObsidianTask) error {
	for i := range f.tasks {
		if f.tasks[i].UUID == t.UUID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			f.deleted = append(f.deleted, t.UUID)
			return nil
		}
	}
	return fmt.Errorf("no such task %s", t.UUID)
}

// fakeRem is an in-memory RemindersGateway that records which lists each
// run queried.
type fakeRem struct {
	tasks     []model.RemindersTask
	queried   [][]string
	nextID    int
	createErr error
	deleted   []string
}

func (f *fakeRem) ListReminders(ctx context.Context, listIDs []string) ([]model.RemindersTask, error) {
	f.queried = append(f.queried, append([]string(nil), listIDs...))
	want := make(map[string]bool, len(listIDs))
	for _, id := range listIDs {
		want[id] = true
	}
	var out []model.RemindersTask
	for _, t := range f.tasks {
		if want[t.ListID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRem) CreateReminder(ctx context.Context, listID string, t *model.RemindersTask) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("rem-new-%d", f.nextID)
	t.UUID = id
	t.ItemID = id
	t.ListID = listID
	f.tasks = append(f.tasks, *t)
	return id, nil
}

func (f *fakeRem) UpdateReminder(ctx context.Context, itemID string, t *model.RemindersTask) error {
	for i := range f.tasks {
		if f.tasks[i].ItemID == itemID {
			mod := time.Now().UTC()
			f.tasks[i] = *t
			f.tasks[i].ModifiedAt = &mod
			return nil
		}
	}
	return fmt.Errorf("no such reminder %s", itemID)
}

func (f *fakeRem) DeleteReminder(ctx context.Context, itemID string) error {
	for i := range f.tasks {
		if f.tasks[i].ItemID == itemID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			f.deleted = append(f.deleted, itemID)
			return nil
		}
	}
	return fmt.Errorf("no such reminder %s", itemID)
}

const testVault = "V"

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.VaultMappings = []model.VaultMapping{{VaultID: testVault, DefaultListID: "L-default"}}
	cfg.TagRoutes = []model.TagRoute{{VaultID: testVault, Tag: "#work", ListID: "L-work"}}
	return cfg
}

func newTestEngine(t *testing.T, cfg *model.Config, obs *fakeObs, rem *fakeRem) (*Engine, string) {
	t.Helper()
	linksPath := filepath.Join(t.TempDir(), "links.json")
	now := func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }
	return NewEngine(cfg, obs, rem, NewLinkStore(linksPath), now), linksPath
}

func TestColdStartSingleMatch(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o1", VaultID: testVault, BlockID: "o1", Description: "Buy milk", Due: day(2025, 1, 15), Status: model.StatusTodo},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r1", ItemID: "r1", ListID: "L-default", Title: "Buy milk", Due: day(2025, 1, 15), Status: model.StatusTodo},
	}}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)

	report, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.NewLinks != 1 {
		t.Fatalf("expected 1 proposed link, got %d", report.NewLinks)
	}
	if !report.Plan.IsEmpty() {
		t.Fatalf("expected empty plan beyond the link, got %+v", report.Plan.Ops)
	}

	store := NewLinkStore(linksPath)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	links := store.Links()
	if len(links) != 1 || links[0].ObsID != "o1" || links[0].RemID != "r1" {
		t.Fatalf("expected persisted link (o1, r1), got %+v", links)
	}
	if links[0].Score < 0.99 {
		t.Fatalf("expected near-perfect score, got %v", links[0].Score)
	}
}

func TestRoutedCreateSurvivesSecondSync(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o2", VaultID: testVault, BlockID: "o2", Description: "Write report", Tags: []string{"#work"}, Status: model.StatusTodo},
	}}
	rem := &fakeRem{}
	engine, _ := newTestEngine(t, testConfig(), obs, rem)

	report, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	var created *PlanOp
	for i := range report.Plan.Ops {
		if report.Plan.Ops[i].Kind == OpCreateRem {
			created = &report.Plan.Ops[i]
		}
	}
	if created == nil || created.ListID != "L-work" {
		t.Fatalf("expected a create routed to L-work, got %+v", report.Plan.Ops)
	}

	// Second run, no external changes: nothing to do, nothing deleted.
	report2, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report2.Plan.IsEmpty() {
		t.Fatalf("expected empty plan on second run, got %+v", report2.Plan.Ops)
	}
	if len(obs.deleted) != 0 || len(rem.deleted) != 0 {
		t.Fatalf("spurious deletion: obs=%v rem=%v", obs.deleted, rem.deleted)
	}

	// The second run must have queried the routed list, not just the default.
	last := rem.queried[len(rem.queried)-1]
	found := false
	for _, id := range last {
		if id == "L-work" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected query set to include routed list L-work, got %v", last)
	}
}

func TestCompletionInRemindersWins(t *testing.T) {
	remMod := time.Date(2025, 1, 8, 11, 0, 0, 0, time.UTC)
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o3", VaultID: testVault, BlockID: "o3", Description: "Ship it", Status: model.StatusTodo, ModifiedAt: "2025-01-08T10:00:00Z"},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r3", ItemID: "r3", ListID: "L-default", Title: "Ship it", Status: model.StatusDone, ModifiedAt: &remMod},
	}}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)
	seedLinks(t, linksPath, model.SyncLink{ObsID: "o3", RemID: "r3", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})

	report, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Plan.Ops) != 1 || report.Plan.Ops[0].Kind != OpUpdateObs {
		t.Fatalf("expected exactly one update_obs op, got %+v", report.Plan.Ops)
	}
	if report.Plan.Ops[0].Obs.Status != model.StatusDone {
		t.Fatalf("expected obs task updated to done")
	}
	if obs.tasks[0].Status != model.StatusDone {
		t.Fatalf("expected fake store updated, got %v", obs.tasks[0].Status)
	}

	report2, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report2.Plan.IsEmpty() {
		t.Fatalf("expected empty plan on re-run, got %+v", report2.Plan.Ops)
	}
}

func TestIdentifierDriftRecovery(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o4", VaultID: testVault, BlockID: "o4", Description: "Ship v2", Status: model.StatusTodo},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r4-new", ItemID: "r4-new", ListID: "L-default", Title: "Ship v2", Status: model.StatusTodo},
	}}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)
	seedLinks(t, linksPath, model.SyncLink{
		ObsID: "o4", RemID: "r4-old", Score: 1.0,
		CreatedAt:         time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RemListID:         "L-default",
		RemTitleHash:      TitleHash("Ship v2"),
		RemLastKnownTitle: "Ship v2",
	})

	report, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range report.Plan.Ops {
		switch op.Kind {
		case OpDeleteObs, OpDeleteRem, OpCreateObs, OpCreateRem:
			t.Fatalf("expected recovery without deletes or creates, got %+v", op)
		}
	}

	store := NewLinkStore(linksPath)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	links := store.Links()
	if len(links) != 1 || links[0].RemID != "r4-new" {
		t.Fatalf("expected link rewritten to r4-new, got %+v", links)
	}
}

func TestDedupExcludesLinkedTasks(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o5a", VaultID: testVault, BlockID: "o5a", Description: "Call Alice", Status: model.StatusTodo},
		{UUID: "o5b", VaultID: testVault, BlockID: "o5b", Description: "Call Alice", Status: model.StatusTodo},
		{UUID: "o5c", VaultID: testVault, BlockID: "o5c", Description: "call  alice", Status: model.StatusTodo},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r5", ItemID: "r5", ListID: "L-default", Title: "Call Alice", Status: model.StatusTodo},
	}}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)
	seedLinks(t, linksPath, model.SyncLink{ObsID: "o5a", RemID: "r5", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})

	report, err := engine.Run(context.Background(), testVault, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Plan.DedupClusters) != 1 {
		t.Fatalf("expected one cluster, got %+v", report.Plan.DedupClusters)
	}
	var ids []string
	for _, m := range report.Plan.DedupClusters[0].Members {
		ids = append(ids, m.UUID)
	}
	if !reflect.DeepEqual(ids, []string{"o5b", "o5c"}) {
		t.Fatalf("expected cluster {o5b, o5c}, got %v", ids)
	}
}

func TestPartialApply(t *testing.T) {
	obsMod := "2025-01-09T10:00:00Z"
	remMod := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o6", VaultID: testVault, BlockID: "o6", Description: "Renamed in obsidian", Status: model.StatusTodo, ModifiedAt: obsMod},
		{UUID: "o7", VaultID: testVault, BlockID: "o7", Description: "Brand new", Tags: []string{"#work"}, Status: model.StatusTodo},
	}}
	rem := &fakeRem{
		tasks: []model.RemindersTask{
			{UUID: "r6", ItemID: "r6", ListID: "L-default", Title: "Old name", Status: model.StatusTodo, ModifiedAt: &remMod},
			{UUID: "r8", ItemID: "r8", ListID: "L-default", Title: "Orphaned", Status: model.StatusTodo},
		},
		createErr: fmt.Errorf("gateway timeout"),
	}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)
	seedLinks(t, linksPath,
		model.SyncLink{ObsID: "o6", RemID: "r6", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		model.SyncLink{ObsID: "o8-gone", RemID: "r8", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	)

	report, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report.PartialApply {
		t.Fatalf("expected partial apply")
	}
	if len(report.Failures()) != 1 || report.Failures()[0].Op.Kind != OpCreateRem {
		t.Fatalf("expected exactly the create to fail, got %+v", report.Failures())
	}
	if rem.tasks[0].Title != "Renamed in obsidian" {
		t.Fatalf("expected the update to have applied, got %q", rem.tasks[0].Title)
	}
	if !reflect.DeepEqual(rem.deleted, []string{"r8"}) {
		t.Fatalf("expected tombstone delete of r8, got %v", rem.deleted)
	}

	// Link file rewritten: o6's last_synced bumped, o7 still unlinked.
	store := NewLinkStore(linksPath)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	links := store.Links()
	if len(links) != 1 || links[0].ObsID != "o6" {
		t.Fatalf("expected only the o6 link to survive, got %+v", links)
	}
	if links[0].LastSynced == nil {
		t.Fatalf("expected last_synced bumped on the updated pair")
	}

	// Next run re-attempts the create once the gateway recovers.
	rem.createErr = nil
	report2, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err != nil {
		t.Fatal(err)
	}
	retried := false
	for _, op := range report2.Plan.Ops {
		if op.Kind == OpCreateRem && op.Obs.UUID == "o7" {
			retried = true
		}
	}
	if !retried {
		t.Fatalf("expected the create to be re-attempted, got %+v", report2.Plan.Ops)
	}
	if report2.PartialApply {
		t.Fatalf("expected clean second run")
	}
}

func TestDryRunIsDeterministicAndWriteFree(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o1", VaultID: testVault, BlockID: "o1", Description: "Alpha", Tags: []string{"#work"}, Status: model.StatusTodo},
		{UUID: "o2", VaultID: testVault, BlockID: "o2", Description: "Beta", Status: model.StatusTodo},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r9", ItemID: "r9", ListID: "L-default", Title: "Gamma", Status: model.StatusTodo},
	}}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)

	r1, err := engine.Run(context.Background(), testVault, Options{})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := engine.Run(context.Background(), testVault, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r1.Plan, r2.Plan) {
		t.Fatalf("expected identical plans across dry runs")
	}
	if _, err := os.Stat(linksPath); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write the link file")
	}
}

func TestDirectionFilterSuppressesOps(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o1", VaultID: testVault, BlockID: "o1", Description: "Only in obsidian", Status: model.StatusTodo},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r1", ItemID: "r1", ListID: "L-default", Title: "Only in reminders", Status: model.StatusTodo},
	}}
	engine, _ := newTestEngine(t, testConfig(), obs, rem)

	report, err := engine.Run(context.Background(), testVault, Options{Direction: DirObsToRem})
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range report.Plan.Ops {
		if strings.HasSuffix(string(op.Kind), "_obs") {
			t.Fatalf("obs-to-rem run must not mutate obsidian, got %+v", op)
		}
	}
	hasCreateRem := false
	for _, op := range report.Plan.Ops {
		if op.Kind == OpCreateRem {
			hasCreateRem = true
		}
	}
	if !hasCreateRem {
		t.Fatalf("expected the obsidian residual to still create into reminders")
	}
}

func TestPlanInconsistencyIsFatal(t *testing.T) {
	obs := &fakeObs{tasks: []model.ObsidianTask{
		{UUID: "o1", VaultID: testVault, BlockID: "o1", Description: "A", Status: model.StatusTodo},
	}}
	rem := &fakeRem{tasks: []model.RemindersTask{
		{UUID: "r1", ItemID: "r1", ListID: "L-default", Title: "A", Status: model.StatusTodo},
		{UUID: "r2", ItemID: "r2", ListID: "L-default", Title: "B", Status: model.StatusTodo},
	}}
	engine, linksPath := newTestEngine(t, testConfig(), obs, rem)
	// Two links claiming the same obs id violate the 1:1 invariant.
	seedLinks(t, linksPath,
		model.SyncLink{ObsID: "o1", RemID: "r1", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		model.SyncLink{ObsID: "o1", RemID: "r2", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	)

	_, err := engine.Run(context.Background(), testVault, Options{Apply: true})
	if err == nil {
		t.Fatalf("expected a fatal plan-inconsistency error")
	}
	var syncErr *model.SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != model.KindPlanInconsistency {
		t.Fatalf("expected PlanInconsistency, got %v", err)
	}
}

// seedLinks writes an initial link file the way a previous run would have.
func seedLinks(t *testing.T, path string, links ...model.SyncLink) {
	t.Helper()
	store := NewLinkStore(path)
	store.Set(links)
	if _, err := store.Save(); err != nil {
		t.Fatal(err)
	}
}
