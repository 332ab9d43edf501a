// Package alert fans visual-regression events out to configured notification
// channels: chat webhooks, generic webhooks and email.
package alert

import (
	"context"
	"time"

	"github.com/vigildev/vigil/internal/snapshot"
)

// Event is the logical alert payload delivered to every channel. Each channel
// shapes it into its own wire format.
type Event struct {
	URL          string            `json:"url"`
	Viewport     snapshot.Viewport `json:"viewport"`
	Selector     string            `json:"selector,omitempty"`
	DiffRatio    float64           `json:"diff_ratio"`
	DiffImageRef string            `json:"diff_image_ref,omitempty"`
	DetectedAt   time.Time         `json:"detected_at"`
}

// Channel delivers an alert event over one notification medium.
// Implementations are selected at construction time from configuration.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}
