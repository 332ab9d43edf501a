package renderer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/snapshot"
)

// Chrome renders targets in a shared headless Chromium process. Every capture
// runs in its own isolated tab derived from the allocator context.
type Chrome struct {
	log *zap.Logger
	cfg config.BrowserConfig

	// allocatorCtx manages the browser process. Capture tabs derive from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks in-flight captures for a graceful shutdown.
	wg sync.WaitGroup
}

// NewChrome launches the browser process and verifies it responds before
// returning.
func NewChrome(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	c := &Chrome{
		log: logger.Named("renderer"),
		cfg: cfg,
	}
	if err := c.launch(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return c, nil
}

func (c *Chrome) launch(ctx context.Context) error {
	c.log.Info("Initializing browser allocator...")

	// The browser outlives the launch context: canceling the command's
	// signal context must not kill captures that a stopping scheduler
	// deliberately lets finish. Shutdown owns the process lifetime through
	// allocatorCancel.
	allocCtx, cancel := chromedp.NewExecAllocator(browserParent(ctx), c.buildAllocatorOptions()...)
	c.allocatorCtx = allocCtx
	c.allocatorCancel = cancel

	// Probe with a throwaway tab to confirm the browser starts and responds.
	probeCtx, cancelProbe := context.WithTimeout(allocCtx, 30*time.Second)
	probeCtx, cancelTab := chromedp.NewContext(probeCtx)
	defer cancelTab()
	defer cancelProbe()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		c.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	c.log.Info("Browser launched and responsive.")
	return nil
}

// browserParent detaches the allocator from the launch context's
// cancellation while keeping its values.
func browserParent(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// buildAllocatorOptions assembles the flags for the headless browser process.
func (c *Chrome) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", c.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", c.cfg.Headless),
		// Animations shift pixels between captures of an unchanged page.
		chromedp.Flag("force-prefers-reduced-motion", true),
		chromedp.Flag("hide-scrollbars", true),
	)

	// Custom arguments from the config file, "--name=value" or "--name".
	for _, arg := range c.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Flags required for running inside containers (e.g. Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// Capture navigates an isolated tab to the target URL at its viewport and
// screenshots either the selector element or the full viewport.
func (c *Chrome) Capture(ctx context.Context, target snapshot.Target, timeout time.Duration) (*snapshot.Snapshot, error) {
	c.wg.Add(1)
	defer c.wg.Done()

	tabCtx, cancelTab := chromedp.NewContext(c.allocatorCtx)
	defer cancelTab()

	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	// The tab derives from the allocator, not the caller; propagate the
	// caller's cancellation manually.
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	vp := target.Viewport
	if err := chromedp.Run(runCtx,
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1.0, false),
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, &CaptureError{Kind: classifyNavigation(err), Target: target, Err: err}
	}

	var image []byte
	if target.Selector != "" {
		if err := chromedp.Run(runCtx,
			chromedp.WaitVisible(target.Selector, chromedp.ByQuery),
		); err != nil {
			// The page loaded; a deadline here means the element never
			// appeared rather than a slow navigation.
			kind := KindTransportError
			if errors.Is(err, context.DeadlineExceeded) {
				kind = KindElementNotFound
			}
			return nil, &CaptureError{Kind: kind, Target: target, Err: err}
		}
		if err := chromedp.Run(runCtx,
			chromedp.Screenshot(target.Selector, &image, chromedp.NodeVisible, chromedp.ByQuery),
		); err != nil {
			return nil, &CaptureError{Kind: KindTransportError, Target: target, Err: err}
		}
	} else {
		if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&image)); err != nil {
			return nil, &CaptureError{Kind: KindTransportError, Target: target, Err: err}
		}
	}

	c.log.Debug("Capture complete",
		zap.String("url", target.URL),
		zap.String("viewport", vp.Name),
		zap.Int("bytes", len(image)))

	return &snapshot.Snapshot{
		Key:        target.Key(),
		URL:        target.URL,
		Viewport:   vp,
		Selector:   target.Selector,
		Image:      image,
		CapturedAt: time.Now().UTC(),
		Metadata:   map[string]string{"renderer": "chromedp"},
	}, nil
}

// Shutdown waits for active captures to finish, respecting the caller's
// deadline, then terminates the browser process.
func (c *Chrome) Shutdown(ctx context.Context) error {
	c.log.Info("Renderer shutdown initiated; waiting for active captures...")

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("Shutdown deadline exceeded; forcing browser termination.", zap.Error(ctx.Err()))
	}

	if c.allocatorCancel != nil {
		c.allocatorCancel()
		<-c.allocatorCtx.Done()
	}
	return nil
}

// classifyNavigation maps a navigation failure onto the capture taxonomy.
func classifyNavigation(err error) CaptureErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNavigationTimeout
	}
	return KindTransportError
}
