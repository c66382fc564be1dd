// Package metrics registers the Prometheus collectors shared by the server
// and the offline agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks currently-open realtime connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsefeed_websocket_connections",
		Help: "Number of currently connected WebSocket clients",
	})

	// WebSocketEvents counts dispatched realtime events by type and direction.
	WebSocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_websocket_events_total",
		Help: "Realtime events processed, by event name and direction",
	}, []string{"event", "direction"})

	// BroadcastDrops counts clients dropped because their send buffer filled.
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsefeed_websocket_broadcast_drops_total",
		Help: "Clients dropped mid-broadcast due to full send buffers",
	})

	// OfflineQueueDepth is the number of queued mutations awaiting replay.
	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsefeed_offline_queue_depth",
		Help: "Queued offline mutations awaiting replay",
	})

	// SyncReplays counts replay attempts by outcome.
	SyncReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_sync_replays_total",
		Help: "Offline mutation replay attempts, by outcome",
	}, []string{"outcome"})

	// CacheRequests counts cache-strategy decisions by partition and result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_cache_requests_total",
		Help: "Cache strategy engine requests, by partition and result",
	}, []string{"partition", "result"})
)
