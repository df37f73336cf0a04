/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "didcomm_relay"

// Delivery paths.
const (
	PathBroker = "broker"
	PathDirect = "direct"
)

// Rejection reasons.
const (
	ReasonInvalid       = "invalid"
	ReasonRateLimited   = "rate_limited"
	ReasonUndeliverable = "undeliverable"
)

// Relay counts envelopes moving through a relay node. A nil *Relay records nothing.
type Relay struct {
	accepted   *prometheus.CounterVec
	failed     *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	consumed   prometheus.Counter
	duplicates prometheus.Counter
	sessions   prometheus.Counter
}

// NewRelay creates the relay collectors and registers them with reg.
func NewRelay(reg prometheus.Registerer) (*Relay, error) {
	m := &Relay{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_accepted_total",
			Help:      "Envelopes accepted by a delivery path.",
		}, []string{"path"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Envelopes a delivery path failed to accept.",
		}, []string{"path"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_rejected_total",
			Help:      "Envelopes refused by the relay API.",
		}, []string{"reason"}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_consumed_total",
			Help:      "Envelopes read back from the broker.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Consumed envelopes already fanned out by this node.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_deliveries_total",
			Help:      "Envelope writes to push sessions.",
		}),
	}

	for _, c := range []prometheus.Collector{m.accepted, m.failed, m.rejected, m.consumed, m.duplicates, m.sessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Accepted records an envelope accepted by path.
func (m *Relay) Accepted(path string) {
	if m != nil {
		m.accepted.WithLabelValues(path).Inc()
	}
}

// Failed records a delivery failure on path.
func (m *Relay) Failed(path string) {
	if m != nil {
		m.failed.WithLabelValues(path).Inc()
	}
}

// Rejected records an envelope refused for reason.
func (m *Relay) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

// Consumed records an envelope read from the broker.
func (m *Relay) Consumed() {
	if m != nil {
		m.consumed.Inc()
	}
}

// Duplicate records a consumed envelope skipped as already delivered.
func (m *Relay) Duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

// Delivered records n session writes.
func (m *Relay) Delivered(n int) {
	if m != nil && n > 0 {
		m.sessions.Add(float64(n))
	}
}
