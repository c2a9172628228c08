// Package metrics provides Prometheus instrumentation for the secure node
// control plane. It exposes run state transitions, credential prompt and
// unlock attempt counters, the current change token and API request counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all control plane metrics
	Namespace = "nodecontrol"

	// Label names
	LabelFrom   = "from"
	LabelTo     = "to"
	LabelKind   = "kind"
	LabelResult = "result"
	LabelRoute  = "route"
	LabelStatus = "status"

	// Unlock attempt results
	ResultOK            = "ok"
	ResultBadCredential = "bad_credential"
	ResultCanceled      = "canceled"
	ResultFatal         = "fatal"
)

var (
	// StateTransitions tracks run state transitions by source and target state.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "run_state_transitions_total",
			Help:      "Total number of run state transitions by from and to state",
		},
		[]string{LabelFrom, LabelTo},
	)

	// CredentialPrompts tracks pending credential requests created, by kind.
	// Fixed-credential short circuits do not create a prompt and are not counted.
	CredentialPrompts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "credential_prompts_total",
			Help:      "Total number of credential prompts created by kind",
		},
		[]string{LabelKind},
	)

	// UnlockAttempts tracks unlock attempts against the selected location by result.
	UnlockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "unlock_attempts_total",
			Help:      "Total number of unlock attempts by result",
		},
		[]string{LabelResult},
	)

	// ChangeToken reports the current change token value.
	ChangeToken = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "change_token",
			Help:      "Current change token value",
		},
	)

	// APIRequests tracks control API requests by route pattern and status code.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_requests_total",
			Help:      "Total number of control API requests by route and status code",
		},
		[]string{LabelRoute, LabelStatus},
	)
)
