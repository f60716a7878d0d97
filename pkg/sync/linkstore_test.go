package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
)

func TestLinkStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	synced := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	store := NewLinkStore(path)
	store.Set([]model.SyncLink{
		{ObsID: "o2", RemID: "r2", Score: 0.8, CreatedAt: synced},
		{ObsID: "o1", RemID: "r1", Score: 1.0, CreatedAt: synced, LastSynced: &synced, RemListID: "L1", RemTitleHash: "h", RemLastKnownTitle: "Buy milk"},
	})
	wrote, err := store.Save()
	if err != nil {
		t.Fatal(err)
	}
	if !wrote {
		t.Fatalf("expected first save to write")
	}

	loaded := NewLinkStore(path)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	links := loaded.Links()
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	// Persisted form is sorted by (obs_id, rem_id).
	if links[0].ObsID != "o1" || links[1].ObsID != "o2" {
		t.Fatalf("expected sorted order, got %+v", links)
	}
	if links[0].RemLastKnownTitle != "Buy milk" || links[0].LastSynced == nil {
		t.Fatalf("anchors or last_synced lost in round trip: %+v", links[0])
	}
}

func TestLinkStoreWriteIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	store := NewLinkStore(path)
	store.Set([]model.SyncLink{{ObsID: "o1", RemID: "r1", Score: 1.0, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}})
	if _, err := store.Save(); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	// Same content again: the file must not be rewritten.
	again := NewLinkStore(path)
	if err := again.Load(); err != nil {
		t.Fatal(err)
	}
	wrote, err := again.Save()
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Fatalf("expected unchanged content to skip the write")
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("file was rewritten despite identical content")
	}
}

func TestLinkStoreDeterministicBytes(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	links := []model.SyncLink{
		{ObsID: "ob", RemID: "rb", Score: 0.9, CreatedAt: created},
		{ObsID: "oa", RemID: "ra", Score: 0.8, CreatedAt: created},
	}

	write := func(dir string, order []model.SyncLink) []byte {
		path := filepath.Join(dir, "links.json")
		s := NewLinkStore(path)
		s.Set(order)
		if _, err := s.Save(); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	a := write(t.TempDir(), links)
	b := write(t.TempDir(), []model.SyncLink{links[1], links[0]})
	if string(a) != string(b) {
		t.Fatalf("expected byte-identical files regardless of insertion order")
	}
}

func TestNormalizeDropsWhenObsidianGone(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	remTasks := []model.RemindersTask{{UUID: "r1", ItemID: "r1", ListID: "L1", Title: "Orphan", Status: model.StatusTodo}}
	links := []model.SyncLink{{ObsID: "o-gone", RemID: "r1", Score: 1.0, CreatedAt: now}}

	out, tombstones, _ := Normalize(links, nil, remTasks, 1, now)
	if len(out) != 0 {
		t.Fatalf("expected link dropped, got %+v", out)
	}
	if len(tombstones) != 1 || tombstones[0].Kind != OpDeleteRem || tombstones[0].ID != "r1" {
		t.Fatalf("expected a delete_rem tombstone for r1, got %+v", tombstones)
	}
}

func TestNormalizeRecoversDriftedRemID(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	obsTasks := []model.ObsidianTask{{UUID: "o1", Description: "Ship v2", Status: model.StatusTodo}}
	remTasks := []model.RemindersTask{{UUID: "r-new", ItemID: "r-new", ListID: "L1", Title: "Ship v2", Status: model.StatusTodo}}
	links := []model.SyncLink{{
		ObsID: "o1", RemID: "r-old", Score: 1.0, CreatedAt: now,
		RemListID: "L1", RemTitleHash: TitleHash("Ship v2"), RemLastKnownTitle: "Ship v2",
	}}

	out, tombstones, _ := Normalize(links, obsTasks, remTasks, 1, now)
	if len(tombstones) != 0 {
		t.Fatalf("expected no tombstones on recovery, got %+v", tombstones)
	}
	if len(out) != 1 || out[0].RemID != "r-new" {
		t.Fatalf("expected rem_id rewritten to r-new, got %+v", out)
	}
	if out[0].IsStale() {
		t.Fatalf("recovered link must not stay stale")
	}
}

func TestNormalizeGraceWindowThenRetire(t *testing.T) {
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	obsTasks := []model.ObsidianTask{{UUID: "o1", Description: "Ship v2", Status: model.StatusTodo}}
	links := []model.SyncLink{{ObsID: "o1", RemID: "r-gone", Score: 1.0, CreatedAt: start}}

	// First run with the rem side missing: retained, marked stale.
	out, tombstones, _ := Normalize(links, obsTasks, nil, 1, start)
	if len(out) != 1 || !out[0].IsStale() || len(tombstones) != 0 {
		t.Fatalf("expected stale retention on first miss, got links=%+v tombstones=%+v", out, tombstones)
	}

	// Next run past the grace window with still no recovery: retired,
	// and the surviving obsidian side is tombstoned.
	later := start.Add(48 * time.Hour)
	out2, tombstones2, _ := Normalize(out, obsTasks, nil, 1, later)
	if len(out2) != 0 {
		t.Fatalf("expected link retired after grace window, got %+v", out2)
	}
	if len(tombstones2) != 1 || tombstones2[0].Kind != OpDeleteObs || tombstones2[0].ID != "o1" {
		t.Fatalf("expected delete_obs tombstone for o1, got %+v", tombstones2)
	}
}

func TestNormalizeRecoveryNeverClaimsAnotherLinksTask(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	obsTasks := []model.ObsidianTask{
		{UUID: "o1", Description: "Ship v2", Status: model.StatusTodo},
		{UUID: "o2", Description: "Ship v2", Status: model.StatusTodo},
	}
	// r-intact is the live counterpart of o2's healthy link; it shares
	// o1's recovery anchor (same list, same title) but is not a residual,
	// so o1's stale link must not be rewritten onto it.
	remTasks := []model.RemindersTask{
		{UUID: "r-intact", ItemID: "r-intact", ListID: "L1", Title: "Ship v2", Status: model.StatusTodo},
	}
	links := []model.SyncLink{
		{ObsID: "o1", RemID: "r-gone", Score: 1.0, CreatedAt: now,
			RemListID: "L1", RemTitleHash: TitleHash("Ship v2")},
		{ObsID: "o2", RemID: "r-intact", Score: 1.0, CreatedAt: now,
			RemListID: "L1", RemTitleHash: TitleHash("Ship v2")},
	}

	out, tombstones, _ := Normalize(links, obsTasks, remTasks, 1, now)
	if len(tombstones) != 0 {
		t.Fatalf("expected no tombstones, got %+v", tombstones)
	}
	if len(out) != 2 {
		t.Fatalf("expected both links retained, got %+v", out)
	}
	byObs := make(map[string]model.SyncLink, len(out))
	for _, l := range out {
		byObs[l.ObsID] = l
	}
	if byObs["o2"].RemID != "r-intact" {
		t.Fatalf("intact link disturbed: %+v", byObs["o2"])
	}
	o1Link := byObs["o1"]
	if o1Link.RemID != "r-gone" || !o1Link.IsStale() {
		t.Fatalf("expected stale link to enter its grace window untouched, got %+v", o1Link)
	}
}

func TestNormalizeAmbiguousRecoveryIsNotTaken(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	obsTasks := []model.ObsidianTask{{UUID: "o1", Description: "Ship v2", Status: model.StatusTodo}}
	// Two candidates share the anchor: recovery must not guess.
	remTasks := []model.RemindersTask{
		{UUID: "r-a", ItemID: "r-a", ListID: "L1", Title: "Ship v2", Status: model.StatusTodo},
		{UUID: "r-b", ItemID: "r-b", ListID: "L1", Title: "Ship v2", Status: model.StatusTodo},
	}
	links := []model.SyncLink{{
		ObsID: "o1", RemID: "r-old", Score: 1.0, CreatedAt: now,
		RemListID: "L1", RemTitleHash: TitleHash("Ship v2"),
	}}

	out, _, _ := Normalize(links, obsTasks, remTasks, 1, now)
	if len(out) != 1 || out[0].RemID != "r-old" || !out[0].IsStale() {
		t.Fatalf("expected ambiguous recovery to fall back to the grace window, got %+v", out)
	}
}
