package merge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_merges_total",
		Help: "Completed baseline merges by kind",
	}, []string{"deck", "kind"})

	checkinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_checkins_total",
		Help: "Sandbox check-ins by outcome",
	}, []string{"deck", "outcome"})

	invalidatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_sandboxes_invalidated_total",
		Help: "Sandboxes invalidated by merges and rollbacks",
	}, []string{"deck"})
)
