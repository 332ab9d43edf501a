// Package engine orchestrates the monitoring pipeline: capturing snapshots,
// comparing them against baselines, persisting history and fanning alerts
// out when a regression is detected.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vigildev/vigil/internal/alert"
	"github.com/vigildev/vigil/internal/baseline"
	"github.com/vigildev/vigil/internal/comparator"
	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/renderer"
	"github.com/vigildev/vigil/internal/snapshot"
	"github.com/vigildev/vigil/internal/storage"
)

// ErrCheckInProgress is returned by RunCheck when a previous check cycle is
// still running. The scheduler treats it as a skipped tick.
var ErrCheckInProgress = errors.New("a check cycle is already in progress")

// ErrNoBaselines is returned by RunCheck in strict mode when no baselines
// have been loaded or created.
var ErrNoBaselines = errors.New("no baselines available; create baselines first")

// TargetFilter selects a subset of the configured targets. Empty fields
// match everything; set fields must match exactly.
type TargetFilter struct {
	URL      string
	Viewport string
	Selector string
}

func (f TargetFilter) matches(t snapshot.Target) bool {
	if f.URL != "" && f.URL != t.URL {
		return false
	}
	if f.Viewport != "" && f.Viewport != t.Viewport.Name {
		return false
	}
	if f.Selector != "" && f.Selector != t.Selector {
		return false
	}
	return true
}

// Engine is a fully explicit monitoring instance. All collaborators are
// injected at construction; nothing is process-global, so multiple engines
// can coexist in one process.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	renderer renderer.Renderer
	compare  comparator.Comparator
	store    *storage.SnapshotStore
	registry *baseline.Registry
	alerts   *alert.Dispatcher
	bus      *events.Bus
	targets  []snapshot.Target

	mu      sync.Mutex
	running bool
	sched   *scheduler

	// checkMu serializes check cycles; TryLock implements skip-if-busy.
	checkMu sync.Mutex
}

// New assembles an engine from its collaborators. Every dependency is
// required.
func New(cfg *config.Config, rend renderer.Renderer, cmp comparator.Comparator, store *storage.SnapshotStore, registry *baseline.Registry, alerts *alert.Dispatcher, bus *events.Bus, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if rend == nil {
		return nil, errors.New("renderer cannot be nil")
	}
	if cmp == nil {
		return nil, errors.New("comparator cannot be nil")
	}
	if store == nil {
		return nil, errors.New("snapshot store cannot be nil")
	}
	if registry == nil {
		return nil, errors.New("baseline registry cannot be nil")
	}
	if alerts == nil {
		return nil, errors.New("alert dispatcher cannot be nil")
	}
	if bus == nil {
		return nil, errors.New("event bus cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:      cfg,
		log:      logger.Named("engine"),
		renderer: rend,
		compare:  cmp,
		store:    store,
		registry: registry,
		alerts:   alerts,
		bus:      bus,
		targets:  cfg.Targets.Expand(),
	}, nil
}

// Bus exposes the engine's event bus so callers can subscribe to lifecycle
// and check events.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Targets returns the expanded monitored target set.
func (e *Engine) Targets() []snapshot.Target {
	out := make([]snapshot.Target, len(e.targets))
	copy(out, e.targets)
	return out
}

// LoadBaselines restores persisted baselines into the in-memory registry.
// Viewport names are resolved against current configuration.
func (e *Engine) LoadBaselines(ctx context.Context) error {
	if err := e.registry.LoadAll(ctx, e.cfg.Targets.ViewportByName); err != nil {
		return fmt.Errorf("failed to load baselines: %w", err)
	}
	e.log.Info("Baselines loaded.", zap.Int("count", e.registry.Len()))
	return nil
}

// CreateBaselines captures every target matching the filter and stores the
// captures as baselines, replacing any existing ones. It returns the number
// of baselines written; per-target capture failures are collected rather
// than aborting the pass.
func (e *Engine) CreateBaselines(ctx context.Context, filter TargetFilter) (int, error) {
	selected := e.selectTargets(filter)
	if len(selected) == 0 {
		return 0, fmt.Errorf("no targets match the given filter")
	}

	var (
		mu      sync.Mutex
		created int
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for _, target := range selected {
		target := target
		g.Go(func() error {
			snap, err := e.renderer.Capture(gctx, target, e.cfg.Monitor.CaptureTimeout)
			if err == nil {
				err = e.registry.Set(gctx, snap)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s @ %s: %w", target.URL, target.Viewport.Name, err))
				return nil
			}
			created++
			e.bus.Publish(events.KindBaselineUpdated, events.BaselineUpdated{
				Key:    snap.Key,
				Target: target,
			})
			return nil
		})
	}
	_ = g.Wait()

	if created > 0 {
		e.bus.Publish(events.KindBaselinesCreated, events.BaselinesCreated{Count: created})
	}
	e.log.Info("Baseline creation finished.",
		zap.Int("created", created),
		zap.Int("failed", len(errs)))
	return created, errors.Join(errs...)
}

// AcceptBaseline promotes fresh captures of the matching targets to
// baselines, bypassing comparison. This is the operator's "the new look is
// intentional" action.
func (e *Engine) AcceptBaseline(ctx context.Context, filter TargetFilter) (int, error) {
	return e.CreateBaselines(ctx, filter)
}

// RunCheck executes one full check cycle over every configured target and
// returns the per-target results. Only one cycle runs at a time; a second
// caller gets ErrCheckInProgress immediately.
func (e *Engine) RunCheck(ctx context.Context) ([]snapshot.CheckResult, error) {
	if !e.checkMu.TryLock() {
		return nil, ErrCheckInProgress
	}
	defer e.checkMu.Unlock()

	if e.cfg.Monitor.StrictBaselines && e.registry.Len() == 0 {
		return nil, ErrNoBaselines
	}

	runID := uuid.NewString()
	log := e.log.With(zap.String("run_id", runID))
	log.Info("Check cycle starting.", zap.Int("targets", len(e.targets)))

	results := make([]snapshot.CheckResult, len(e.targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i, target := range e.targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = e.checkTarget(gctx, log, target)
			return nil
		})
	}
	_ = g.Wait()

	e.bus.Publish(events.KindCheckCompleted, events.CheckCompleted{
		RunID:   runID,
		Results: results,
	})
	log.Info("Check cycle finished.", zap.Object("summary", resultSummary(results)))
	return results, nil
}

// checkTarget runs the capture/compare/persist pipeline for one target. All
// failure modes are folded into the returned result; nothing a single
// target does can abort the cycle.
func (e *Engine) checkTarget(ctx context.Context, log *zap.Logger, target snapshot.Target) snapshot.CheckResult {
	result := snapshot.CheckResult{Target: target}

	snap, err := e.renderer.Capture(ctx, target, e.cfg.Monitor.CaptureTimeout)
	if err != nil {
		log.Warn("Capture failed.",
			zap.String("url", target.URL),
			zap.String("viewport", target.Viewport.Name),
			zap.Error(err))
		result.Status = snapshot.StatusFailed
		result.Error = err.Error()
		return result
	}

	base, ok := e.registry.Get(snap.Key)
	if !ok {
		return e.bootstrapBaseline(ctx, log, snap, result)
	}

	diff, err := e.compare.Diff(base.Image, snap.Image)
	if err != nil {
		var dim *comparator.DimensionMismatchError
		if errors.As(err, &dim) {
			log.Warn("Baseline dimensions changed; accept the baseline to resume comparison.",
				zap.String("url", target.URL),
				zap.String("mismatch", dim.Error()))
		} else {
			log.Error("Comparison failed.", zap.String("url", target.URL), zap.Error(err))
		}
		result.Status = snapshot.StatusFailed
		result.Error = err.Error()
		return result
	}

	cmpResult := snapshot.ComparisonResult{DiffRatio: diff.DiffRatio}
	if diff.DiffRatio > e.cfg.Monitor.Threshold {
		cmpResult.ExceedsThreshold = true
		ref, werr := e.store.WriteDiff(ctx, snap.Key, snap.CapturedAt, diff.DiffImage)
		if werr != nil {
			log.Error("Failed to persist diff image.", zap.String("url", target.URL), zap.Error(werr))
		} else {
			cmpResult.DiffImageRef = ref
		}

		result.Status = snapshot.StatusAlert
		result.DiffRatio = diff.DiffRatio
		result.DiffImageRef = cmpResult.DiffImageRef

		e.bus.Publish(events.KindRegressionDetected, events.RegressionDetected{
			Target:       target,
			DiffRatio:    diff.DiffRatio,
			DiffImageRef: cmpResult.DiffImageRef,
		})
		e.alerts.Dispatch(ctx, alert.Event{
			URL:          target.URL,
			Viewport:     target.Viewport,
			Selector:     target.Selector,
			DiffRatio:    diff.DiffRatio,
			DiffImageRef: cmpResult.DiffImageRef,
			DetectedAt:   snap.CapturedAt,
		})
	} else {
		result.Status = snapshot.StatusOK
		result.DiffRatio = diff.DiffRatio
	}

	e.appendHistory(ctx, log, snap, cmpResult)
	return result
}

// bootstrapBaseline handles the first observation of a key: the capture
// becomes the baseline and no comparison runs.
func (e *Engine) bootstrapBaseline(ctx context.Context, log *zap.Logger, snap *snapshot.Snapshot, result snapshot.CheckResult) snapshot.CheckResult {
	if err := e.registry.Set(ctx, snap); err != nil {
		log.Error("Failed to store new baseline.", zap.String("url", snap.URL), zap.Error(err))
		result.Status = snapshot.StatusFailed
		result.Error = err.Error()
		return result
	}

	log.Info("New baseline created.",
		zap.String("url", snap.URL),
		zap.String("viewport", snap.Viewport.Name),
		zap.String("key", string(snap.Key)))
	e.bus.Publish(events.KindBaselinesCreated, events.BaselinesCreated{Count: 1})

	result.Status = snapshot.StatusNewBaseline
	e.appendHistory(ctx, log, snap, snapshot.ComparisonResult{})
	return result
}

func (e *Engine) appendHistory(ctx context.Context, log *zap.Logger, snap *snapshot.Snapshot, res snapshot.ComparisonResult) {
	evicted, err := e.store.AppendHistory(ctx, &snapshot.HistoryEntry{
		Key:       snap.Key,
		Snapshot:  snap,
		Result:    res,
		Timestamp: snap.CapturedAt,
	}, e.cfg.Monitor.MaxSnapshots)
	if err != nil {
		log.Error("Failed to append history.", zap.String("key", string(snap.Key)), zap.Error(err))
		e.bus.Publish(events.KindError, events.EngineError{Cause: err.Error()})
		return
	}
	if evicted > 0 {
		log.Debug("History trimmed.",
			zap.String("key", string(snap.Key)),
			zap.Int("evicted", evicted))
	}
}

// Start validates the schedule and launches the recurring check loop.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	interval, err := ParseSchedule(e.cfg.Monitor.Schedule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.sched = newScheduler(interval, func(runCtx context.Context) error {
		_, err := e.RunCheck(runCtx)
		if err != nil && !errors.Is(err, ErrCheckInProgress) {
			// Skipped ticks are routine; failed cycles are observable.
			e.bus.Publish(events.KindError, events.EngineError{Cause: err.Error()})
		}
		return err
	}, e.log.Named("scheduler"))
	e.sched.start(ctx)
	e.running = true

	e.bus.Publish(events.KindStarted, nil)
	e.log.Info("Engine started.", zap.Duration("interval", interval))
	return nil
}

// Stop halts the scheduler. An in-flight check finishes; only future ticks
// are canceled. Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.sched.stop()
	e.sched = nil
	e.running = false

	e.bus.Publish(events.KindStopped, nil)
	e.log.Info("Engine stopped.")
}

// Close stops the engine and releases the renderer and event bus. The
// context bounds how long renderer shutdown may take.
func (e *Engine) Close(ctx context.Context) error {
	e.Stop()
	err := e.renderer.Shutdown(ctx)
	e.bus.Shutdown()
	return err
}

func (e *Engine) selectTargets(filter TargetFilter) []snapshot.Target {
	var out []snapshot.Target
	for _, t := range e.targets {
		if filter.matches(t) {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) concurrency() int {
	if e.cfg.Monitor.Concurrency > 0 {
		return e.cfg.Monitor.Concurrency
	}
	return 1
}

// resultSummary aggregates per-status counts for the cycle log line.
type resultSummary []snapshot.CheckResult

func (rs resultSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	counts := make(map[snapshot.Status]int)
	for _, r := range rs {
		counts[r.Status]++
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		enc.AddInt(s, counts[snapshot.Status(s)])
	}
	return nil
}
