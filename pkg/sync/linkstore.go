package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/textnorm"
)

// staleGraceWindow is how long a link with a drifted rem_id is retained
// before retirement, per spec.md §4.4 ("one grace run").
const staleGraceWindow = 24 * time.Hour

// recoveryMinScore is the score threshold for identifier-drift recovery,
// distinct from (and higher than) the matcher's default min_score.
const recoveryMinScore = 0.9

// linkRecord is the on-disk shape: a subset of model.SyncLink with
// explicit JSON field names so the serialized form is stable across Go
// struct-tag reordering.
type linkRecord struct {
	ObsID             string     `json:"obs_id"`
	RemID             string     `json:"rem_id"`
	Score             float64    `json:"score"`
	CreatedAt         time.Time  `json:"created_at"`
	LastSynced        *time.Time `json:"last_synced,omitempty"`
	RemListID         string     `json:"rem_list_id,omitempty"`
	RemTitleHash      string     `json:"rem_title_hash,omitempty"`
	RemLastKnownTitle string     `json:"rem_last_known_title,omitempty"`
	// omitempty can't elide a zero time.Time, so stale_since is a
	// pointer: absent from the file for the common non-stale case.
	StaleSince *time.Time `json:"stale_since,omitempty"`
}

// LinkStore is the persisted identity bridge between Obsidian and
// Reminders tasks: load before a run, rewritten atomically after.
// Grounded on the teacher's index.EventIndex (dirty-flag, load-once,
// write-if-changed) generalized from a single id-map to the richer
// SyncLink record spec.md §4.4 requires, with write-if-changed decided by
// comparing serialized bytes rather than a dirty flag, since the engine
// mutates the whole link set wholesale at end-of-run rather than
// incrementally.
type LinkStore struct {
	path  string
	links []model.SyncLink
	raw   []byte // on-disk bytes at load time, for write-if-changed
}

// NewLinkStore returns a store backed by path. If the file doesn't exist
// yet, Load returns an empty link set without error.
func NewLinkStore(path string) *LinkStore {
	return &LinkStore{path: path}
}

// Load reads the link file, or leaves the store empty if it doesn't
// exist yet (first run for this vault).
func (s *LinkStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.links = nil
			s.raw = nil
			return nil
		}
		return err
	}

	var records []linkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("linkstore: decode %s: %w", s.path, err)
	}

	s.links = make([]model.SyncLink, 0, len(records))
	for _, r := range records {
		link := model.SyncLink{
			ObsID:             r.ObsID,
			RemID:             r.RemID,
			Score:             r.Score,
			CreatedAt:         r.CreatedAt,
			LastSynced:        r.LastSynced,
			RemListID:         r.RemListID,
			RemTitleHash:      r.RemTitleHash,
			RemLastKnownTitle: r.RemLastKnownTitle,
		}
		if r.StaleSince != nil {
			link.StaleSince = *r.StaleSince
		}
		s.links = append(s.links, link)
	}
	s.raw = data
	return nil
}

// Links returns the currently loaded link set.
func (s *LinkStore) Links() []model.SyncLink { return s.links }

// Set replaces the in-memory link set; callers pass the engine's final
// link list for this run.
func (s *LinkStore) Set(links []model.SyncLink) { s.links = links }

// Save serializes the current link set in a stable sorted form and
// rewrites the file only if the bytes changed, via temp-file + atomic
// rename. Returns (wrote bool, err error).
func (s *LinkStore) Save() (bool, error) {
	sorted := make([]model.SyncLink, len(s.links))
	copy(sorted, s.links)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ObsID != sorted[j].ObsID {
			return sorted[i].ObsID < sorted[j].ObsID
		}
		return sorted[i].RemID < sorted[j].RemID
	})

	records := make([]linkRecord, 0, len(sorted))
	for _, l := range sorted {
		r := linkRecord{
			ObsID: l.ObsID, RemID: l.RemID, Score: l.Score,
			CreatedAt: l.CreatedAt, LastSynced: l.LastSynced,
			RemListID: l.RemListID, RemTitleHash: l.RemTitleHash,
			RemLastKnownTitle: l.RemLastKnownTitle,
		}
		if l.IsStale() {
			stale := l.StaleSince
			r.StaleSince = &stale
		}
		records = append(records, r)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return false, err
	}
	data = append(data, '\n')

	if s.raw != nil && string(data) == string(s.raw) {
		return false, nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, "links-*.json.tmp")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return false, err
	}
	s.raw = data
	return true, nil
}

// Normalize implements spec.md §4.4's load-time normalization: drop
// links whose Obsidian side is gone; for links whose Reminders side is
// gone, attempt recovery against the Reminders residuals before
// retiring. Returns the normalized link set, the tombstone delete ops a
// retirement produces (spec.md §4.4's tombstone mechanism: the
// surviving counterpart is deleted, never recreated), and diagnostics.
func Normalize(links []model.SyncLink, obsTasks []model.ObsidianTask, remTasks []model.RemindersTask, daysTolerance int, now time.Time) ([]model.SyncLink, []PlanOp, []string) {
	obsByID := make(map[string]*model.ObsidianTask, len(obsTasks))
	for i := range obsTasks {
		obsByID[obsTasks[i].UUID] = &obsTasks[i]
	}
	remByID := make(map[string]*model.RemindersTask, len(remTasks))
	for i := range remTasks {
		remByID[remTasks[i].UUID] = &remTasks[i]
	}

	var diagnostics []string
	var tombstones []PlanOp
	var out []model.SyncLink

	// Rem ids still attached to an intact link are not residuals and must
	// never be claimed by another link's recovery, even when a duplicate
	// title in the same list makes them look like a candidate.
	claimedRem := make(map[string]bool, len(links))
	for _, link := range links {
		if _, ok := remByID[link.RemID]; ok {
			claimedRem[link.RemID] = true
		}
	}

	for _, link := range links {
		obsTask, obsOK := obsByID[link.ObsID]
		if !obsOK {
			diagnostics = append(diagnostics, fmt.Sprintf("dropped link %s/%s: obsidian task gone", link.ObsID, link.RemID))
			if _, remOK := remByID[link.RemID]; remOK {
				tombstones = append(tombstones, PlanOp{Kind: OpDeleteRem, ID: link.RemID})
			}
			continue
		}

		if _, remOK := remByID[link.RemID]; remOK {
			link.StaleSince = time.Time{}
			out = append(out, link)
			continue
		}

		recovered, ok := recoverLink(link, obsTask, remTasks, claimedRem, daysTolerance)
		if ok {
			diagnostics = append(diagnostics, fmt.Sprintf("recovered link %s: rem_id %s -> %s", link.ObsID, link.RemID, recovered.RemID))
			claimedRem[recovered.RemID] = true
			out = append(out, recovered)
			continue
		}

		if link.IsStale() {
			if now.Sub(link.StaleSince) > staleGraceWindow {
				diagnostics = append(diagnostics, fmt.Sprintf("retired link %s/%s: grace window expired", link.ObsID, link.RemID))
				tombstones = append(tombstones, PlanOp{Kind: OpDeleteObs, ID: link.ObsID, Obs: obsTask})
				continue
			}
			out = append(out, link)
			continue
		}

		link.StaleSince = now
		diagnostics = append(diagnostics, fmt.Sprintf("link %s/%s has a missing rem_id; starting grace window", link.ObsID, link.RemID))
		out = append(out, link)
	}

	return out, tombstones, diagnostics
}

// recoverLink searches residual Reminders tasks for a single candidate
// matching the link's recovery anchors (list id + title hash), scoring
// >= recoveryMinScore. claimedRem holds the rem ids attached to intact
// (or already-recovered) links; those tasks are not residuals and are
// skipped as candidates.
func recoverLink(link model.SyncLink, obsTask *model.ObsidianTask, remTasks []model.RemindersTask, claimedRem map[string]bool, daysTolerance int) (model.SyncLink, bool) {
	if link.RemListID == "" || link.RemTitleHash == "" {
		return link, false
	}

	var candidates []*model.RemindersTask
	for i := range remTasks {
		t := &remTasks[i]
		if claimedRem[t.UUID] {
			continue
		}
		if t.ListID == link.RemListID && TitleHash(t.Title) == link.RemTitleHash {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) != 1 {
		return link, false
	}

	candidate := candidates[0]
	if RecoveryScore(obsTask, candidate, daysTolerance) < recoveryMinScore {
		return link, false
	}

	link.RemID = candidate.UUID
	link.RemListID = candidate.ListID
	link.RemTitleHash = TitleHash(candidate.Title)
	link.RemLastKnownTitle = candidate.Title
	link.StaleSince = time.Time{}
	return link, true
}

// TitleHash is the recovery anchor's content fingerprint: normalized
// title, hashed so the stored anchor doesn't leak the full title text
// into a diff-friendly log line while still letting recovery detect an
// exact-normalized-title match.
func TitleHash(title string) string {
	sum := sha256.Sum256([]byte(textnorm.NormalizeDescription(title)))
	return hex.EncodeToString(sum[:])
}

// WithRecoveryAnchors stamps a freshly-created or freshly-matched link
// with the anchors needed for future identifier-drift recovery.
func WithRecoveryAnchors(link model.SyncLink, rem *model.RemindersTask) model.SyncLink {
	link.RemListID = rem.ListID
	link.RemTitleHash = TitleHash(rem.Title)
	link.RemLastKnownTitle = rem.Title
	return link
}
