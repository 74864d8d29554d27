package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	editsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_sandbox_edits_total",
		Help: "Sandbox record edits by operation",
	}, []string{"op"})

	purgedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_sandbox_purged_total",
		Help: "Sandboxes removed by purge runs",
	}, []string{"kind"})
)
