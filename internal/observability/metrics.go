package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors registered on the default registry and served by /metrics.
var (
	MovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "stock_movements_total",
		Help:      "Stock movements appended to the ledger.",
	}, []string{"type", "ref_type"})

	MovementUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "stock_movement_units_total",
		Help:      "Units moved, by movement type.",
	}, []string{"type"})

	ShortagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "insufficient_stock_total",
		Help:      "Operations rejected because stock would go negative.",
	}, []string{"operation"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "webhook_events_total",
		Help:      "Webhook processing outcomes.",
	}, []string{"channel", "status"})

	WebhookDuplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "webhook_duplicates_total",
		Help:      "Webhook deliveries discarded by idempotency key.",
	}, []string{"channel"})

	CsvBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "csv_batches_total",
		Help:      "CSV batch submit/finalize outcomes.",
	}, []string{"status"})

	OutboxDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "outbox_dropped_total",
		Help:      "Notifications dropped because the outbox buffer was full.",
	})

	OutboxDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockledger",
		Name:      "outbox_delivered_total",
		Help:      "Notification delivery attempts by result.",
	}, []string{"result"})
)
