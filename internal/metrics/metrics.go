// Package metrics implements the GatewayMetricsSnapshot Prometheus
// collector (SPEC_FULL.md §2/§3). Modeled directly on the teacher's
// metricsProvider in pkg/bridge/metrics.go: a prometheus.Collector that
// reads live values from its collaborators at scrape time rather than
// maintaining a shadow copy of their state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nixieboluo/sealos-tty-agent/internal/kubeexec"
	"github.com/Nixieboluo/sealos-tty-agent/internal/ticket"
)

// SessionCounter reports the number of live WebSocket sessions. Satisfied
// by *gateway.Gateway.
type SessionCounter interface {
	SessionCount() int
}

// Collector is a prometheus.Collector exposing ticket, session, exec, and
// throughput metrics for the gateway.
type Collector struct {
	store    *ticket.Store
	sessions SessionCounter

	liveTickets      *prometheus.Desc
	liveSessions     *prometheus.Desc
	ticketsIssued    *prometheus.Desc
	ticketsConsumed  *prometheus.Desc
	ticketsExpired   *prometheus.Desc
	ticketsRejected  *prometheus.Desc
	execSuccessTotal *prometheus.Desc
	execFailureTotal *prometheus.Desc
	bytesOutTotal    *prometheus.Desc
}

// New builds a Collector over store (for ticket stats) and sessions (for
// the live session gauge).
func New(store *ticket.Store, sessions SessionCounter) *Collector {
	return &Collector{
		store:    store,
		sessions: sessions,
		liveTickets: prometheus.NewDesc(
			"tty_agent_live_tickets",
			"Number of unused, unexpired tickets currently held",
			nil, nil,
		),
		liveSessions: prometheus.NewDesc(
			"tty_agent_live_sessions",
			"Number of open WebSocket sessions",
			nil, nil,
		),
		ticketsIssued: prometheus.NewDesc(
			"tty_agent_tickets_issued_total",
			"Total tickets issued via POST /ws-ticket",
			nil, nil,
		),
		ticketsConsumed: prometheus.NewDesc(
			"tty_agent_tickets_consumed_total",
			"Total tickets successfully consumed by a session",
			nil, nil,
		),
		ticketsExpired: prometheus.NewDesc(
			"tty_agent_tickets_expired_total",
			"Total tickets that expired unused",
			nil, nil,
		),
		ticketsRejected: prometheus.NewDesc(
			"tty_agent_tickets_rejected_total",
			"Total ticket consume attempts rejected (unknown or reused)",
			nil, nil,
		),
		execSuccessTotal: prometheus.NewDesc(
			"tty_agent_exec_attach_success_total",
			"Total successful upstream exec attaches",
			nil, nil,
		),
		execFailureTotal: prometheus.NewDesc(
			"tty_agent_exec_attach_failure_total",
			"Total failed upstream exec attaches",
			nil, nil,
		),
		bytesOutTotal: prometheus.NewDesc(
			"tty_agent_bytes_out_total",
			"Total bytes of merged stdout/stderr piped to clients",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.liveTickets
	ch <- c.liveSessions
	ch <- c.ticketsIssued
	ch <- c.ticketsConsumed
	ch <- c.ticketsExpired
	ch <- c.ticketsRejected
	ch <- c.execSuccessTotal
	ch <- c.execFailureTotal
	ch <- c.bytesOutTotal
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.liveTickets, prometheus.GaugeValue, float64(c.store.Count()))
	ch <- prometheus.MustNewConstMetric(c.liveSessions, prometheus.GaugeValue, float64(c.sessions.SessionCount()))

	issued, consumed, expired, rejected := c.store.Stats()
	ch <- prometheus.MustNewConstMetric(c.ticketsIssued, prometheus.CounterValue, float64(issued))
	ch <- prometheus.MustNewConstMetric(c.ticketsConsumed, prometheus.CounterValue, float64(consumed))
	ch <- prometheus.MustNewConstMetric(c.ticketsExpired, prometheus.CounterValue, float64(expired))
	ch <- prometheus.MustNewConstMetric(c.ticketsRejected, prometheus.CounterValue, float64(rejected))

	ch <- prometheus.MustNewConstMetric(c.execSuccessTotal, prometheus.CounterValue, float64(kubeexec.AttachSuccesses.Load()))
	ch <- prometheus.MustNewConstMetric(c.execFailureTotal, prometheus.CounterValue, float64(kubeexec.AttachFailures.Load()))

	ch <- prometheus.MustNewConstMetric(c.bytesOutTotal, prometheus.CounterValue, float64(kubeexec.BytesOut.Load()))
}
