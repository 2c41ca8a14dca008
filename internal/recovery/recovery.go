// Package recovery implements the retry orchestrator that wraps the engine's
// fallible operations: bounded exponential-backoff retries tuned per
// operation type, and prioritized recovery actions that run when retries are
// exhausted. Backoff sleeps are cooperative, so a cancelled context aborts a
// waiting retry instead of blocking it.
package recovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/pkg/metrics"
)

// Config tunes the retry loop for one operation type. Distinct operation
// types carry distinct configs: a gateway payout tolerates more attempts and
// longer delays than a local database write.
type Config struct {
	// MaxAttempts is the total number of invocations, first try included.
	MaxAttempts int

	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration

	// BackoffMultiplier scales the delay after every failed attempt.
	BackoffMultiplier float64

	// MaxDelay caps the grown delay. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultConfig applies to operation types with no registered config.
var DefaultConfig = Config{
	MaxAttempts:       3,
	InitialDelay:      100 * time.Millisecond,
	BackoffMultiplier: 2,
	MaxDelay:          5 * time.Second,
}

// ActionKind classifies what a recovery action does.
type ActionKind string

const (
	// ActionRetry actions repair the operation's precondition (reconnect,
	// refresh a token). When one succeeds the orchestrator re-runs the
	// operation a final time.
	ActionRetry ActionKind = "retry"

	// ActionRollback actions undo caller-supplied partial work. The original
	// error still surfaces afterwards.
	ActionRollback ActionKind = "rollback"

	// ActionManualIntervention actions only flag the failure for an
	// operator; they never resolve it.
	ActionManualIntervention ActionKind = "manual_intervention"
)

// Priority orders recovery actions; higher runs first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// Action is one registered recovery step for an operation type.
type Action struct {
	Name     string
	Kind     ActionKind
	Priority Priority

	// Run receives the error that exhausted the retries.
	Run func(ctx context.Context, cause error) error
}

// HealthIssue describes one failed pre-flight check.
type HealthIssue struct {
	Component string
	Detail    string
}

// Orchestrator holds per-operation retry configs and recovery actions.
// Registration happens at wiring time; execution is safe for concurrent use.
type Orchestrator struct {
	store storage.Store

	mu      sync.RWMutex
	configs map[string]Config
	actions map[string][]Action
}

// New creates an orchestrator. The store is only used by health validation
// and may be nil in tests that do not exercise it.
func New(store storage.Store) *Orchestrator {
	return &Orchestrator{
		store:   store,
		configs: make(map[string]Config),
		actions: make(map[string][]Action),
	}
}

// SetConfig registers the retry config for an operation type.
func (o *Orchestrator) SetConfig(operationType string, cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs[operationType] = cfg
}

// RegisterAction adds a recovery action for an operation type.
func (o *Orchestrator) RegisterAction(operationType string, action Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions[operationType] = append(o.actions[operationType], action)
}

func (o *Orchestrator) configFor(operationType string) Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if cfg, ok := o.configs[operationType]; ok {
		return cfg
	}
	return DefaultConfig
}

func (o *Orchestrator) actionsFor(operationType string) []Action {
	o.mu.RLock()
	defer o.mu.RUnlock()
	registered := o.actions[operationType]
	ordered := make([]Action, len(registered))
	copy(ordered, registered)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}

// ExecuteWithRecovery runs fn under the operation type's retry config.
// Non-retryable failures (validation, conflict, not-found, authorization,
// invalid-state) propagate immediately. Retryable failures are retried with
// exponential backoff; when attempts are exhausted the registered recovery
// actions run in priority order. A retry-kind action that succeeds earns the
// operation one final run; if nothing recovers, the caller receives a system
// error wrapping the original cause.
func ExecuteWithRecovery[T any](ctx context.Context, o *Orchestrator, operationType string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	cfg := o.configFor(operationType)
	timer := prometheus.NewTimer(metrics.OperationDuration.WithLabelValues(operationType))
	defer timer.ObserveDuration()

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		metrics.RetryAttempts.WithLabelValues(operationType).Inc()

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("Operation succeeded after retry",
					"operation", operationType,
					"attempt", attempt,
				)
			}
			return result, nil
		}
		lastErr = err

		if !errs.IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("Operation failed, backing off",
			"operation", operationType,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay, cfg)
	}

	slog.Error("Operation exhausted retries, running recovery actions",
		"operation", operationType,
		"attempts", cfg.MaxAttempts,
		"error", lastErr,
	)
	if recovered, result, err := runRecovery(ctx, o, operationType, fn, lastErr); recovered {
		return result, err
	}

	return zero, errs.E(errs.KindSystem, operationType, "operation failed after exhausting retries", lastErr)
}

// Execute is ExecuteWithRecovery for operations with no result.
func (o *Orchestrator) Execute(ctx context.Context, operationType string, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithRecovery(ctx, o, operationType, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// runRecovery walks the operation type's actions in priority order. It
// reports recovered=true only when a retry-kind action repaired the
// precondition and the final re-run of fn settled the outcome.
func runRecovery[T any](ctx context.Context, o *Orchestrator, operationType string, fn func(ctx context.Context) (T, error), cause error) (recovered bool, result T, err error) {
	for _, action := range o.actionsFor(operationType) {
		actionErr := action.Run(ctx, cause)
		outcome := "success"
		if actionErr != nil {
			outcome = "failure"
		}
		metrics.RecoveryActions.WithLabelValues(string(action.Kind), outcome).Inc()

		switch action.Kind {
		case ActionRetry:
			if actionErr != nil {
				slog.Warn("Recovery action failed",
					"operation", operationType,
					"action", action.Name,
					"error", actionErr,
				)
				continue
			}
			slog.Info("Recovery action succeeded, re-running operation",
				"operation", operationType,
				"action", action.Name,
			)
			result, err = fn(ctx)
			if err == nil {
				return true, result, nil
			}
			cause = err

		case ActionRollback:
			if actionErr != nil {
				slog.Error("Rollback failed",
					"operation", operationType,
					"action", action.Name,
					"error", actionErr,
				)
			} else {
				slog.Info("Rolled back partial work",
					"operation", operationType,
					"action", action.Name,
				)
			}

		case ActionManualIntervention:
			slog.Error("Manual intervention required",
				"operation", operationType,
				"action", action.Name,
				"error", cause,
			)
		}
	}

	var zero T
	return false, zero, nil
}

func nextDelay(delay time.Duration, cfg Config) time.Duration {
	next := time.Duration(float64(delay) * cfg.BackoffMultiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}

// ValidateSystemHealth runs non-throwing pre-flight checks and returns one
// issue per failed check. An empty slice means the system looks healthy.
func (o *Orchestrator) ValidateSystemHealth(ctx context.Context) []HealthIssue {
	var issues []HealthIssue

	if o.store == nil {
		issues = append(issues, HealthIssue{
			Component: "storage",
			Detail:    "no store configured",
		})
		return issues
	}

	if err := o.store.Ping(ctx); err != nil {
		issues = append(issues, HealthIssue{
			Component: "storage",
			Detail:    "ping failed: " + err.Error(),
		})
		return issues
	}
	if _, err := o.store.ListRecentSettlements(ctx, 1); err != nil {
		issues = append(issues, HealthIssue{
			Component: "storage",
			Detail:    "query failed: " + err.Error(),
		})
	}

	return issues
}
