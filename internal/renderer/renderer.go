// Package renderer produces screenshot snapshots of monitored targets using
// a shared headless browser process.
package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/vigildev/vigil/internal/snapshot"
)

// Renderer captures a rendering of a target. Implementations own their
// browser resources and release them in Shutdown.
type Renderer interface {
	// Capture renders the target and returns its snapshot. Failures are
	// reported as *CaptureError with a classified kind.
	Capture(ctx context.Context, target snapshot.Target, timeout time.Duration) (*snapshot.Snapshot, error)
	// Shutdown waits for in-flight captures and terminates the browser.
	Shutdown(ctx context.Context) error
}

// CaptureErrorKind classifies why a capture failed.
type CaptureErrorKind string

const (
	// KindNavigationTimeout means the page did not finish loading within
	// the capture deadline.
	KindNavigationTimeout CaptureErrorKind = "navigation-timeout"
	// KindElementNotFound means the configured selector never became
	// visible on the loaded page.
	KindElementNotFound CaptureErrorKind = "element-not-found"
	// KindTransportError covers network, TLS and browser process failures.
	KindTransportError CaptureErrorKind = "transport-error"
)

// CaptureError is a classified per-target capture failure. It is recoverable:
// the affected target is marked failed for the cycle and the batch continues.
type CaptureError struct {
	Kind   CaptureErrorKind
	Target snapshot.Target
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed (%s) for %s at %s: %v", e.Kind, e.Target.URL, e.Target.Viewport, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
