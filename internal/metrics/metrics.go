// Package metrics exposes process-table and connection counters in
// Prometheus text format, grounded on Atlas's api0.apiMetrics
// (R2Northstar-Atlas/pkg/api/api0/metrics.go), trimmed to this module's
// much smaller surface: package-level counters registered against a
// private set instead of a per-handler lazily-initialized struct, since
// there is exactly one node runtime per process.
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var set = metrics.NewSet()

var (
	// ProcessesSpawned counts every Spawn/SpawnLink call, ever.
	ProcessesSpawned = set.NewCounter(`ernode_processes_spawned_total`)
	// ProcessesActive tracks the current process table size.
	ProcessesActive = set.NewCounter(`ernode_processes_active`)
	// MessagesDelivered counts successful mailbox deliveries, local or remote.
	MessagesDelivered = set.NewCounter(`ernode_messages_delivered_total`)
	// ConnectionsActive tracks live distribution connections, dialed or accepted.
	ConnectionsActive = set.NewCounter(`ernode_connections_active`)
)

// WritePrometheus writes every registered metric in Prometheus text exposition
// format, for wiring into an HTTP /metrics handler.
func WritePrometheus(w io.Writer) {
	set.WritePrometheus(w)
}
