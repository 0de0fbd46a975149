// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesSentTotal counts frames emitted per device.
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anser_frames_sent_total",
			Help: "Total number of Ethernet frames sent",
		},
		[]string{"device"},
	)

	// FramesReceivedTotal counts frames accepted per device.
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anser_frames_received_total",
			Help: "Total number of Ethernet frames received",
		},
		[]string{"device"},
	)

	// FramesDroppedTotal counts frames dropped before delivery.
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anser_frames_dropped_total",
			Help: "Total number of frames dropped",
		},
		[]string{"device", "reason"},
	)

	// DatagramsForwardedTotal counts IP datagrams routed through this host.
	DatagramsForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anser_datagrams_forwarded_total",
			Help: "Total number of IP datagrams forwarded",
		},
	)

	// DatagramsDroppedTotal counts datagrams rejected by header policing.
	DatagramsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anser_datagrams_dropped_total",
			Help: "Total number of IP datagrams dropped",
		},
		[]string{"reason"},
	)

	// SegmentsRetransmittedTotal counts TCP retransmissions.
	SegmentsRetransmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anser_segments_retransmitted_total",
			Help: "Total number of TCP segments retransmitted",
		},
	)

	// ConnectionsActive tracks control blocks, including unconnected
	// sockets, that have not yet been disposed of.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anser_connections_active",
			Help: "Number of TCP connections currently tracked",
		},
	)

	// RoutingEntries tracks the size of the routing table.
	RoutingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anser_routing_entries",
			Help: "Number of entries in the routing table",
		},
	)
)
