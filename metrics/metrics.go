// Package metrics declares the fixed set of Prometheus collectors the
// bitswap engine updates along its control paths. Names are part of the
// host-facing interface contract and must not change.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bitswap"

// Metrics holds every collector the engine touches. The zero value is not
// usable; construct one with New.
type Metrics struct {
	RequestsTotal            *prometheus.CounterVec
	RequestDurationSeconds   *prometheus.HistogramVec
	RequestsCanceledTotal    prometheus.Counter
	BlockNotFoundTotal       prometheus.Counter
	ProvidersTotal           prometheus.Counter
	MissingBlocksTotal       prometheus.Counter
	ReceivedBlockBytesTotal  prometheus.Counter
	ReceivedInvalidBlockBytesTotal prometheus.Counter
	SentBlockBytesTotal      prometheus.Counter
	ResponsesTotal           *prometheus.CounterVec
	ThrottledInboundTotal    prometheus.Counter
	ThrottledOutboundTotal   prometheus.Counter
	OutboundFailureTotal     *prometheus.CounterVec
	InboundFailureTotal      *prometheus.CounterVec
}

// New builds a fresh set of unregistered collectors. Callers that never
// call Register still get working counters/histograms; they simply won't
// be exposed to any Prometheus scraper.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of sub-queries completed, labeled by query type.",
		}, []string{"type"}),
		RequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of a sub-query from creation to completion, labeled by query type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		RequestsCanceledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_canceled_total",
			Help:      "Number of root queries cancelled by the host.",
		}),
		BlockNotFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_not_found_total",
			Help:      "Number of get queries that exhausted every provider without finding the block.",
		}),
		ProvidersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "providers_total",
			Help:      "Number of peers that confirmed holding a wanted block.",
		}),
		MissingBlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_blocks_total",
			Help:      "Number of CIDs discovered missing by a missing-blocks probe.",
		}),
		ReceivedBlockBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_block_bytes_total",
			Help:      "Bytes of validated block payload received from peers.",
		}),
		ReceivedInvalidBlockBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_invalid_block_bytes_total",
			Help:      "Bytes of block payload received from peers that failed hash validation.",
		}),
		SentBlockBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_block_bytes_total",
			Help:      "Bytes of block payload sent to peers in response to block requests.",
		}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Number of responses sent to inbound requests, labeled by kind.",
		}, []string{"type"}),
		ThrottledInboundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_inbound_total",
			Help:      "Number of inbound requests throttled by the transport.",
		}),
		ThrottledOutboundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_outbound_total",
			Help:      "Number of outbound requests throttled by the transport.",
		}),
		OutboundFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_failure_total",
			Help:      "Number of outbound request failures, labeled by reason.",
		}, []string{"reason"}),
		InboundFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_failure_total",
			Help:      "Number of inbound request failures, labeled by reason.",
		}, []string{"reason"}),
	}
}

// Register adds every collector to reg. Registering the same Metrics
// against the same registry twice returns reg's own
// prometheus.AlreadyRegisteredError; registering against a distinct
// registry is always safe, matching the idempotent-by-design contract in
// the host-facing API.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestsTotal,
		m.RequestDurationSeconds,
		m.RequestsCanceledTotal,
		m.BlockNotFoundTotal,
		m.ProvidersTotal,
		m.MissingBlocksTotal,
		m.ReceivedBlockBytesTotal,
		m.ReceivedInvalidBlockBytesTotal,
		m.SentBlockBytesTotal,
		m.ResponsesTotal,
		m.ThrottledInboundTotal,
		m.ThrottledOutboundTotal,
		m.OutboundFailureTotal,
		m.InboundFailureTotal,
	}
}
