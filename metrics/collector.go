// metrics/collector.go
package metrics

import (
	"net/http"

	"github.com/lisuiheng/agentconn/agentstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ prometheus.Collector = (*StateCollector)(nil)

// StateCollector exports the state of every connection in a store. Values
// are read from the store at scrape time.
type StateCollector struct {
	store *agentstate.Store

	uiState           *prometheus.Desc
	reconnectAttempts *prometheus.Desc
	connectedSince    *prometheus.Desc
	tracked           *prometheus.Desc
}

func NewStateCollector(store *agentstate.Store) *StateCollector {
	return &StateCollector{
		store: store,
		uiState: prometheus.NewDesc(
			"agentconn_connection_ui_state",
			"Derived UI state per agent connection; 1 for the current state.",
			[]string{"agent_id", "state"}, nil,
		),
		reconnectAttempts: prometheus.NewDesc(
			"agentconn_connection_reconnect_attempts",
			"Disconnects observed per agent connection.",
			[]string{"agent_id"}, nil,
		),
		connectedSince: prometheus.NewDesc(
			"agentconn_connection_connected_since_seconds",
			"Unix time the agent connection was established, 0 when not connected.",
			[]string{"agent_id"}, nil,
		),
		tracked: prometheus.NewDesc(
			"agentconn_tracked_connections",
			"Number of agent connections in the store.",
			nil, nil,
		),
	}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uiState
	ch <- c.reconnectAttempts
	ch <- c.connectedSince
	ch <- c.tracked
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.store.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.tracked, prometheus.GaugeValue, float64(len(snapshot)))

	for id, st := range snapshot {
		current := agentstate.DeriveUIState(st)
		for _, s := range agentstate.UIStates {
			v := 0.0
			if s == current {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.uiState, prometheus.GaugeValue, v, id, s.String())
		}
		ch <- prometheus.MustNewConstMetric(c.reconnectAttempts, prometheus.GaugeValue, float64(st.ReconnectAttempts), id)

		since := 0.0
		if !st.ConnectedAt.IsZero() {
			since = float64(st.ConnectedAt.UnixNano()) / 1e9
		}
		ch <- prometheus.MustNewConstMetric(c.connectedSince, prometheus.GaugeValue, since, id)
	}
}

// NewRegistry returns a registry holding a StateCollector for store plus the
// standard Go and process collectors.
func NewRegistry(store *agentstate.Store) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewStateCollector(store),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
