package model

import "time"

// SyncLink is the persisted identity bridge between one Obsidian task and
// one Reminders task. At most one link exists per ObsID and per RemID.
//
// The recovery anchors let the engine re-identify a Reminders task whose
// host-assigned ItemID has drifted (device sync, app reinstall) without
// treating the drift as a deletion; see sync.Normalize.
type SyncLink struct {
	ObsID      string
	RemID      string
	Score      float64
	CreatedAt  time.Time
	LastSynced *time.Time

	// Recovery anchors, populated the first time the link is written.
	RemListID        string
	RemTitleHash      string
	RemLastKnownTitle string

	// StaleSince is set when RemID was not found in the current snapshot
	// and no recovery candidate was found; it marks the start of the
	// one-run grace window described in spec.md §4.4. Zero means not stale.
	StaleSince time.Time
}

// IsStale reports whether this link is currently in its grace window
// waiting for a recovery attempt on a future run.
func (l *SyncLink) IsStale() bool {
	return !l.StaleSince.IsZero()
}
