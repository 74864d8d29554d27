package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_ingest_records_total",
		Help: "Records handled by the ingest engine by outcome",
	}, []string{"deck", "outcome"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckstore_ingest_fallbacks_total",
		Help: "Batches demoted to a slower strategy after a constraint violation",
	}, []string{"deck", "strategy"})

	batchTargetGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deckstore_ingest_batch_target",
		Help: "Current fast-path batch size target",
	}, []string{"deck"})
)
