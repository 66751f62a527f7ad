// Package metrics exposes Prometheus collectors for the synchronization
// managers. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marmot"

const (
	LabelResult = "result"

	ResultDuplicate   = "duplicate"
	ResultIngested    = "ingested"
	ResultAppMessage  = "app_message"
	ResultIngestError = "ingest_error"
	ResultDecodeError = "decode_error"

	ResultNotForUs   = "not_for_us"
	ResultNotWelcome = "not_welcome"
	ResultInvite     = "invite"
)

type Collector struct {
	subscriptions  prometheus.Gauge
	groupEvents    *prometheus.CounterVec
	unread         prometheus.Gauge
	reconcile      prometheus.Histogram
	envelopes      *prometheus.CounterVec
	invitesPending prometheus.Gauge
}

// NewCollector registers the collectors on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_subscriptions",
			Help:      "the number of groups with an open subscription",
		}),
		groupEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_events_total",
			Help:      "the number of group events processed, by outcome",
		}, []string{LabelResult}),
		unread: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_unread",
			Help:      "the number of groups with unread messages",
		}),
		reconcile: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "time spent in one subscription reconciliation pass",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_envelopes_total",
			Help:      "the number of invitation envelopes processed, by outcome",
		}, []string{LabelResult}),
		invitesPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "invites_pending",
			Help:      "the number of invitations still pending",
		}),
	}
}

func (c *Collector) SubscriptionsOpen(n int) {
	if c == nil {
		return
	}
	c.subscriptions.Set(float64(n))
}

func (c *Collector) GroupEvent(result string) {
	if c == nil {
		return
	}
	c.groupEvents.With(prometheus.Labels{LabelResult: result}).Inc()
}

func (c *Collector) UnreadGroups(n int) {
	if c == nil {
		return
	}
	c.unread.Set(float64(n))
}

func (c *Collector) ReconcileDone(d time.Duration) {
	if c == nil {
		return
	}
	c.reconcile.Observe(d.Seconds())
}

func (c *Collector) Envelope(result string) {
	if c == nil {
		return
	}
	c.envelopes.With(prometheus.Labels{LabelResult: result}).Inc()
}

func (c *Collector) InvitesPending(n int) {
	if c == nil {
		return
	}
	c.invitesPending.Set(float64(n))
}
