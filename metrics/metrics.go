// Package metrics exposes the prometheus collectors tracking packet flow and
// protocol progress of a broadcast node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drand/bracha/log"
)

var (
	// PrivateMetrics about the internal world (go process, private stuff)
	PrivateMetrics = prometheus.NewRegistry()

	// PacketsReceived is the number of protocol packets handled, by protocol
	PacketsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packets_received",
		Help: "Number of protocol packets handled by the state machines",
	}, []string{"protocol"})
	// PacketsSent is the number of packets handed to the transport
	PacketsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "packets_sent",
		Help: "Number of packets handed to the transport",
	})
	// PacketsDropped is the number of inbound packets dropped, by reason
	PacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packets_dropped",
		Help: "Number of inbound packets dropped",
	}, []string{"reason"})
	// SendFailures is the number of outbound packets the transport rejected
	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "send_failures",
		Help: "Number of outbound packets the transport rejected",
	})
	// Deliveries is the number of (originator, round) pairs delivered
	Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deliveries",
		Help: "Number of reliably delivered broadcast values",
	})
	// Combines is the number of combined threshold signatures produced
	Combines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "combines",
		Help: "Number of combined threshold signatures produced",
	})
)

func bindMetrics() {
	private := []prometheus.Collector{
		PacketsReceived,
		PacketsSent,
		PacketsDropped,
		SendFailures,
		Deliveries,
		Combines,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range private {
		_ = PrivateMetrics.Register(c)
	}
}

// Start starts a prometheus metrics server on the given address, serving the
// private registry at /metrics.
func Start(l log.Logger, metricsAddr string) *http.Server {
	bindMetrics()
	l.Infow("metrics listening", "addr", metricsAddr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(PrivateMetrics, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Errorw("metrics server failed", "err", err)
		}
	}()
	return server
}
