package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orders consumed by the grouping processor, by currency and side.
	OrdersGroupedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_orders_grouped_total",
			Help: "Total number of remittance orders consumed into exposure groups.",
		},
		[]string{"currency", "side"},
	)

	// Remittances closed out of exposure groups, by currency and trigger
	// (amount threshold vs. time window).
	RemittancesClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_remittances_closed_total",
			Help: "Total number of remittances closed, by currency and close trigger.",
		},
		[]string{"currency", "trigger"},
	)

	// Open exposure per (currency, side) group in minor units.
	OpenExposure = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settlement_open_exposure_minor_units",
			Help: "Accumulated exposure of the current open group in minor units.",
		},
		[]string{"currency", "side"},
	)

	// Outbound PSP gateway calls by operation and outcome.
	PSPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_psp_requests_total",
			Help: "Total number of PSP gateway calls (by operation and status).",
		},
		[]string{"operation", "status"},
	)

	// Exchange quotation batches released back for retry after PSP failure.
	BatchesReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_quotation_batches_released_total",
			Help: "Total number of exchange quotation batches released for retry.",
		},
	)

	// Processor tick outcomes for the background jobs.
	ProcessorTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_processor_ticks_total",
			Help: "Total number of background processor ticks (by processor and status).",
		},
		[]string{"processor", "status"},
	)
)

// IncPSPRequest records one PSP gateway call outcome.
func IncPSPRequest(operation, status string) {
	PSPRequestsTotal.WithLabelValues(operation, status).Inc()
}

// IncTick records one processor tick outcome.
func IncTick(processor, status string) {
	ProcessorTicksTotal.WithLabelValues(processor, status).Inc()
}
