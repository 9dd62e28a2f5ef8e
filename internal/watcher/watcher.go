// Package watcher runs the change detection loop: it bootstraps the
// last-known address, polls the resolver on a fixed interval and notifies
// the webhook when the address changes.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cl3t4p/ip-notifier/internal/blacklist"
	"github.com/cl3t4p/ip-notifier/internal/metrics"
	"github.com/cl3t4p/ip-notifier/internal/notifier"
	"github.com/cl3t4p/ip-notifier/internal/retry"
	"github.com/cl3t4p/ip-notifier/internal/store"
	"github.com/cl3t4p/ip-notifier/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -destination=mocks/mock_watcher.go -package=mocks . Resolver,Notifier

// Resolver fetches the current public address once per call.
type Resolver interface {
	Fetch(ctx context.Context, lookupURL string) (string, error)
}

// Notifier delivers one change notification and reports the HTTP status.
type Notifier interface {
	Notify(ctx context.Context, addr string) (int, error)
}

// ErrBootstrapExhausted is returned when a bounded bootstrap policy runs out
// of lookup attempts.
var ErrBootstrapExhausted = errors.New("bootstrap lookup attempts exhausted")

const DefaultInterval = 60 * time.Second

type Config struct {
	LookupURL string
	Interval  time.Duration
	Bootstrap retry.Backoff
	// StoreBackend only labels metrics.
	StoreBackend string
}

type Watcher struct {
	cfg      Config
	resolver Resolver
	notifier Notifier
	store    store.AddressStore
	filter   *blacklist.Filter
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error // injectable for tests
	now      func() time.Time

	mu               sync.RWMutex
	state            State
	lastKnown        string
	hasLastKnown     bool
	lastCheckAt      time.Time
	lastChangeAt     time.Time
	lookupFailStreak int
}

func New(
	cfg Config,
	resolver Resolver,
	notifier Notifier,
	addrStore store.AddressStore,
	filter *blacklist.Filter,
	logger *slog.Logger,
) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = store.BackendFile
	}
	logger = logger.With("component", "watcher")
	if filter == nil {
		filter = blacklist.NewFilter(nil, logger)
	}
	w := &Watcher{
		cfg:      cfg,
		resolver: resolver,
		notifier: notifier,
		store:    addrStore,
		filter:   filter,
		logger:   logger,
		sleep:    retry.Sleep,
		now:      time.Now,
	}
	w.setState(StateBootstrapping)
	return w
}

// Run establishes the last-known address and then ticks until ctx is done.
// It returns ctx.Err() on shutdown and a wrapped error when startup fails.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		"lookup_url", w.cfg.LookupURL,
		"interval", w.cfg.Interval,
		"blacklist_rules", len(w.filter.Rules()),
	)

	if err := w.Start(ctx); err != nil {
		if ctx.Err() != nil {
			w.terminate()
			return ctx.Err()
		}
		return err
	}

	for {
		w.Tick(ctx)
		if err := w.sleep(ctx, w.cfg.Interval); err != nil {
			w.terminate()
			return err
		}
	}
}

// Start loads the persisted address, or bootstraps one when none exists.
// A persisted address moves straight to STEADY without notifying.
func (w *Watcher) Start(ctx context.Context) error {
	addr, found, err := w.store.Load(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(w.cfg.StoreBackend, "load").Inc()
		return fmt.Errorf("load last known address: %w", err)
	}
	if found {
		w.setLastKnown(addr, false)
		w.setState(StateSteady)
		w.logger.Info("loaded last known address", "address", addr)
		return nil
	}
	return w.bootstrap(ctx)
}

func (w *Watcher) bootstrap(ctx context.Context) (err error) {
	ctx, span := tracing.Tracer("watcher").Start(ctx, "watcher.bootstrap")
	defer func() { tracing.Finish(span, err) }()

	w.logger.Info("no last known address, bootstrapping")

	var addr string
	for attempt := 1; ; attempt++ {
		metrics.WatcherBootstrapAttempts.Inc()
		addr, err = w.resolver.Fetch(ctx, w.cfg.LookupURL)
		w.recordCheck(err)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.cfg.Bootstrap.Exhausted(attempt) {
			return fmt.Errorf("%w after %d attempts: %w", ErrBootstrapExhausted, attempt, err)
		}

		delay := w.cfg.Bootstrap.Delay(attempt)
		decision := retry.Classify(err)
		w.logger.Error("failed to get address, retrying",
			"attempt", attempt,
			"delay", delay,
			"reason", decision.Reason,
			"transient", decision.IsTransient(),
			"error", err,
		)
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
	span.SetAttributes(attribute.String("address", addr))

	// Save and Notify ignore cancellation so shutdown cannot split them.
	commitCtx := context.WithoutCancel(ctx)
	if err := w.store.Save(commitCtx, addr); err != nil {
		metrics.StoreErrors.WithLabelValues(w.cfg.StoreBackend, "save").Inc()
		return fmt.Errorf("persist bootstrap address: %w", err)
	}
	w.setLastKnown(addr, true)

	status, err := w.notifier.Notify(commitCtx, addr)
	if err != nil {
		return fmt.Errorf("send initial notification: %w", err)
	}
	if !notifier.IsSuccess(status) {
		w.logger.Error("initial notification rejected", "status", status, "address", addr)
	}

	w.setState(StateSteady)
	w.logger.Info("bootstrap complete", "address", addr)
	return nil
}

// Tick runs one steady-state cycle. It never fails: every problem is
// logged and reflected in the returned Outcome.
func (w *Watcher) Tick(ctx context.Context) Outcome {
	ctx, span := tracing.Tracer("watcher").Start(ctx, "watcher.tick")
	defer span.End()

	metrics.WatcherTicksTotal.Inc()
	w.logger.Debug("checking for address changes")

	candidate, err := w.resolver.Fetch(ctx, w.cfg.LookupURL)
	w.recordCheck(err)
	if err != nil {
		decision := retry.Classify(err)
		w.logger.Error("failed to get current address",
			"reason", decision.Reason,
			"transient", decision.IsTransient(),
			"error", err,
		)
		span.RecordError(err)
		return w.outcome(span, OutcomeLookupFailed)
	}

	if rule, ok := w.filter.Match(candidate); ok {
		metrics.WatcherBlacklistSkips.Inc()
		w.logger.Warn("address matches blacklist pattern, skipping",
			"address", candidate,
			"pattern", rule.Pattern,
			"index", rule.Index,
		)
		return w.outcome(span, OutcomeBlacklisted)
	}

	previous := w.LastKnown()
	if candidate == previous {
		w.logger.Debug("address unchanged", "address", candidate)
		return w.outcome(span, OutcomeUnchanged)
	}

	changeID := uuid.NewString()
	logger := w.logger.With("change_id", changeID)
	span.SetAttributes(attribute.String("change_id", changeID))

	// Notify and Save ignore cancellation so shutdown cannot split them;
	// both are bounded by their own timeouts.
	commitCtx := context.WithoutCancel(ctx)
	status, err := w.notifier.Notify(commitCtx, candidate)
	switch {
	case err != nil:
		logger.Error("failed to send notification", "address", candidate, "error", err)
	case !notifier.IsSuccess(status):
		logger.Error("notification rejected", "address", candidate, "status", status)
	default:
		logger.Info("notification sent", "address", candidate, "status", status)
	}

	// The new address is accepted whether or not the notification landed.
	w.setLastKnown(candidate, true)
	metrics.WatcherAddressChanges.Inc()
	metrics.WatcherLastChangeTimestamp.SetToCurrentTime()

	if err := w.store.Save(commitCtx, candidate); err != nil {
		metrics.StoreErrors.WithLabelValues(w.cfg.StoreBackend, "save").Inc()
		logger.Error("failed to persist address", "address", candidate, "error", err)
	}

	logger.Info("address changed", "previous_address", previous, "address", candidate)
	return w.outcome(span, OutcomeChanged)
}

func (w *Watcher) outcome(span trace.Span, o Outcome) Outcome {
	span.SetAttributes(attribute.String("outcome", string(o)))
	return o
}

func (w *Watcher) terminate() {
	w.setState(StateTerminated)
	w.logger.Info("watcher stopped", "last_known_address", w.LastKnown())
}

// LastKnown returns the in-memory last-known address.
func (w *Watcher) LastKnown() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastKnown
}

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	for _, candidate := range allStates {
		v := 0.0
		if candidate == s {
			v = 1
		}
		metrics.WatcherState.WithLabelValues(string(candidate)).Set(v)
	}
}

func (w *Watcher) setLastKnown(addr string, changed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastKnown = addr
	w.hasLastKnown = true
	if changed {
		w.lastChangeAt = w.now()
	}
}

func (w *Watcher) recordCheck(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastCheckAt = w.now()
	if err != nil {
		w.lookupFailStreak++
	} else {
		w.lookupFailStreak = 0
	}
}
