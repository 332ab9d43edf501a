// Package events provides the typed publish/subscribe bus carrying engine
// lifecycle and check-outcome notifications to loosely coupled observers.
package events

import (
	"time"

	"github.com/vigildev/vigil/internal/snapshot"
)

// Kind discriminates event payload types.
type Kind string

const (
	KindStarted            Kind = "started"
	KindStopped            Kind = "stopped"
	KindBaselinesCreated   Kind = "baselines-created"
	KindBaselineUpdated    Kind = "baseline-updated"
	KindCheckCompleted     Kind = "check-completed"
	KindRegressionDetected Kind = "visual-regression-detected"
	KindError              Kind = "error"
)

// Event is the envelope delivered to subscribers. Payload holds the typed
// variant matching Kind.
type Event struct {
	ID        string
	Kind      Kind
	Payload   any
	Timestamp time.Time
}

// BaselinesCreated reports a bootstrap or explicit create operation.
type BaselinesCreated struct {
	Count int
}

// BaselineUpdated reports a single baseline replacement.
type BaselineUpdated struct {
	Key    snapshot.Key
	Target snapshot.Target
}

// CheckCompleted carries the full result list of one check cycle.
type CheckCompleted struct {
	RunID   string
	Results []snapshot.CheckResult
}

// RegressionDetected reports one target exceeding the diff threshold.
type RegressionDetected struct {
	Target       snapshot.Target
	DiffRatio    float64
	DiffImageRef string
}

// EngineError reports a contained engine-level failure.
type EngineError struct {
	Cause string
}
