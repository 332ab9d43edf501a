// Package snapshot defines the core data model shared across the monitoring
// engine: monitored targets, captured snapshots, comparison results and the
// per-check result envelope.
package snapshot

import (
	"fmt"
	"time"
)

// Viewport describes the browser window dimensions a target is rendered at.
type Viewport struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// String renders the viewport in the conventional "name (WxH)" form used in
// logs and alert payloads.
func (v Viewport) String() string {
	return fmt.Sprintf("%s (%dx%d)", v.Name, v.Width, v.Height)
}

// Target is a single monitored unit: a URL rendered at a viewport, optionally
// scoped to a CSS selector. An empty selector captures the full viewport.
type Target struct {
	URL      string   `json:"url"`
	Viewport Viewport `json:"viewport"`
	Selector string   `json:"selector,omitempty"`
}

// Key returns the deterministic storage key for this target.
func (t Target) Key() Key {
	return DeriveKey(t.URL, t.Viewport.Name, t.Selector)
}

// Snapshot is a captured rendering of a target at a point in time. It is
// immutable once created; ownership passes to the registry or store when
// handed over.
type Snapshot struct {
	Key        Key               `json:"key"`
	URL        string            `json:"url"`
	Viewport   Viewport          `json:"viewport"`
	Selector   string            `json:"selector,omitempty"`
	Image      []byte            `json:"-"`
	CapturedAt time.Time         `json:"captured_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Target reconstructs the target triple this snapshot was captured for.
func (s *Snapshot) Target() Target {
	return Target{URL: s.URL, Viewport: s.Viewport, Selector: s.Selector}
}

// ComparisonResult is the outcome of diffing a current snapshot against its
// baseline. DiffImageRef is populated only when the threshold was exceeded;
// non-exceeding diffs do not persist diff images.
type ComparisonResult struct {
	DiffRatio        float64 `json:"diff_ratio"`
	ExceedsThreshold bool    `json:"exceeds_threshold"`
	DiffImageRef     string  `json:"diff_image_ref,omitempty"`
}

// HistoryEntry records one check for one key. Entries are appended on every
// check, not only on regressions, so trends remain visible.
type HistoryEntry struct {
	Key       Key              `json:"key"`
	Snapshot  *Snapshot        `json:"snapshot"`
	Result    ComparisonResult `json:"result"`
	Timestamp time.Time        `json:"timestamp"`
}

// Status classifies the outcome of checking a single target.
type Status string

const (
	// StatusNewBaseline marks the first observation of a previously unseen
	// key; the capture became the baseline and no comparison ran.
	StatusNewBaseline Status = "new-baseline"
	// StatusOK means the capture matched the baseline within threshold.
	StatusOK Status = "ok"
	// StatusAlert means the diff ratio exceeded the configured threshold.
	StatusAlert Status = "alert"
	// StatusFailed means the target could not be checked this cycle
	// (capture failure or dimension mismatch).
	StatusFailed Status = "failed"
)

// CheckResult is the per-target outcome of one check cycle.
type CheckResult struct {
	Target       Target  `json:"target"`
	Status       Status  `json:"status"`
	DiffRatio    float64 `json:"diff_ratio,omitempty"`
	DiffImageRef string  `json:"diff_image_ref,omitempty"`
	Error        string  `json:"error,omitempty"`
}
