// Package metrics exposes the engine's Prometheus collectors. Everything is
// registered on the default registry and served by promhttp in cmd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettlementOperations counts service-level settlement operations by
	// outcome: generate, process, retry_failed_payouts, mark_failed.
	SettlementOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "operations_total",
		Help:      "Settlement service operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// PayoutSubmissions counts gateway submissions by channel and outcome.
	PayoutSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "payout_submissions_total",
		Help:      "Commission payout gateway submissions by channel and outcome.",
	}, []string{"channel", "outcome"})

	// PayoutResults counts asynchronous gateway results by final status.
	PayoutResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "payout_results_total",
		Help:      "Asynchronous payout results received from the gateway.",
	}, []string{"status"})

	// BankTransfers counts bank-rail transfers by portion and outcome.
	BankTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "bank_transfers_total",
		Help:      "Bank transfers by portion (sha, mwu) and outcome.",
	}, []string{"portion", "outcome"})

	// RetryAttempts counts orchestrator attempts by operation type.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Retry orchestrator attempts by operation type.",
	}, []string{"operation"})

	// RecoveryActions counts recovery action executions by kind and outcome.
	RecoveryActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "retry",
		Name:      "recovery_actions_total",
		Help:      "Recovery action executions by kind and outcome.",
	}, []string{"kind", "outcome"})

	// OperationDuration observes wall-clock duration of orchestrated
	// operations, successful or not.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "settlement",
		Name:      "operation_duration_seconds",
		Help:      "Duration of orchestrated operations.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation"})
)
