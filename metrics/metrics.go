// Package metrics exposes Prometheus instrumentation for the telepath core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesEnqueued counts messages accepted for store-and-forward.
	MessagesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telepath",
		Name:      "messages_enqueued_total",
		Help:      "Messages accepted into the store-and-forward queue.",
	})

	// MessagesDelivered counts messages handed to a recipient by a drain.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telepath",
		Name:      "messages_delivered_total",
		Help:      "Messages marked delivered by a pending drain.",
	})

	// MessagesPurged counts hard deletions from read acknowledgements,
	// conversation deletes, and sweeps.
	MessagesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telepath",
		Name:      "messages_purged_total",
		Help:      "Messages hard-deleted from the queue.",
	})

	// DecodeFailures counts messages whose unwrap failed authentication.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telepath",
		Name:      "decode_failures_total",
		Help:      "Delivered messages that failed authenticated unwrap.",
	})

	// KeysCreated counts registered keys, personal and auxiliary.
	KeysCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telepath",
		Name:      "keys_created_total",
		Help:      "Encryption keys registered.",
	})

	// ResolveRejected counts resolve-key requests refused by the limiter.
	ResolveRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "telepath",
		Name:      "resolve_rejected_total",
		Help:      "Key resolutions rejected by rate limiting.",
	})
)
