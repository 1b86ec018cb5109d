// Package prom exports tiercache.Hooks events as Prometheus counters.
//
//	m := prom.New("myapp")
//	m.MustRegister(registry)
//	h, _ := tiercache.New(tiercache.Options{Hooks: m})
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/local"
)

// Hooks holds the collectors. Counter updates are lock-free and safe on the
// cache's hot path.
type Hooks struct {
	hitsTotal        *prometheus.CounterVec
	missesTotal      *prometheus.CounterVec
	evictionsTotal   *prometheus.CounterVec
	setRejectedTotal prometheus.Counter
	errorsTotal      *prometheus.CounterVec
	selfHealsTotal   *prometheus.CounterVec
	clearsTotal      prometheus.Counter
	epoch            prometheus.Gauge
}

var _ tiercache.Hooks = (*Hooks)(nil)

// New builds unregistered collectors under namespace ("" => "tiercache").
func New(namespace string) *Hooks {
	if namespace == "" {
		namespace = "tiercache"
	}
	const sub = "cache"
	return &Hooks{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"tier"},
		),
		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"tier"},
		),
		evictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "local_evictions_total",
				Help:      "Local entries that left the store, by reason",
			},
			[]string{"reason"},
		),
		setRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "local_set_rejected_total",
				Help:      "Local writes refused by the backend",
			},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "errors_total",
				Help:      "Failed tier operations, masked or not",
			},
			[]string{"tier", "op"},
		),
		selfHealsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "self_heals_total",
				Help:      "Undecodable entries deleted on read",
			},
			[]string{"tier", "reason"},
		),
		clearsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "local_clears_total",
				Help:      "Number of ClearLocal calls",
			},
		),
		epoch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: sub,
				Name:      "local_epoch",
				Help:      "Current Local invalidation epoch",
			},
		),
	}
}

// Collectors returns every collector, for callers that register themselves.
func (h *Hooks) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.hitsTotal,
		h.missesTotal,
		h.evictionsTotal,
		h.setRejectedTotal,
		h.errorsTotal,
		h.selfHealsTotal,
		h.clearsTotal,
		h.epoch,
	}
}

// Register registers all collectors with reg.
func (h *Hooks) Register(reg prometheus.Registerer) error {
	for _, c := range h.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(h.Collectors()...)
}

// Init pre-creates the common label combinations so series appear before
// the first event.
func (h *Hooks) Init() {
	for _, t := range []tiercache.Tier{tiercache.TierLocal, tiercache.TierRemote} {
		h.hitsTotal.WithLabelValues(t.String())
		h.missesTotal.WithLabelValues(t.String())
		for _, op := range []string{"get", "set", "remove"} {
			h.errorsTotal.WithLabelValues(t.String(), op)
		}
	}
	for _, r := range []local.Reason{local.ReasonExpired, local.ReasonInvalidated, local.ReasonCapacity, local.ReasonRemoved} {
		h.evictionsTotal.WithLabelValues(string(r))
	}
}

func (h *Hooks) Hit(t tiercache.Tier, _ string)  { h.hitsTotal.WithLabelValues(t.String()).Inc() }
func (h *Hooks) Miss(t tiercache.Tier, _ string) { h.missesTotal.WithLabelValues(t.String()).Inc() }
func (h *Hooks) LocalSetRejected(string)         { h.setRejectedTotal.Inc() }

func (h *Hooks) LocalEvicted(_ string, r local.Reason) {
	h.evictionsTotal.WithLabelValues(string(r)).Inc()
}

func (h *Hooks) BackendError(t tiercache.Tier, op, _ string, _ error) {
	h.errorsTotal.WithLabelValues(t.String(), op).Inc()
}

func (h *Hooks) SelfHeal(t tiercache.Tier, _, reason string) {
	h.selfHealsTotal.WithLabelValues(t.String(), reason).Inc()
}

func (h *Hooks) LocalCleared(epoch uint64) {
	h.clearsTotal.Inc()
	h.epoch.Set(float64(epoch))
}
