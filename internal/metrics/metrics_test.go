package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Nixieboluo/sealos-tty-agent/internal/ticket"
)

type fakeSessionCounter struct{ count int }

func (f fakeSessionCounter) SessionCount() int { return f.count }

func TestCollectorReportsLiveTicketsAndSessions(t *testing.T) {
	store := ticket.New(time.Minute)
	_, _, err := store.Issue("kubeconfig", ticket.Target{Namespace: "ns", Pod: "p"}, ticket.IssuerMeta{})
	require.NoError(t, err)

	collector := New(store, fakeSessionCounter{count: 3})

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(collector))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetGauge() != nil {
				values[family.GetName()] = metric.GetGauge().GetValue()
			} else if metric.GetCounter() != nil {
				values[family.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}

	require.Equal(t, float64(1), values["tty_agent_live_tickets"])
	require.Equal(t, float64(3), values["tty_agent_live_sessions"])
	require.Equal(t, float64(1), values["tty_agent_tickets_issued_total"])
}
