// Package metrics declares the prometheus instruments the netplay core
// exports: drift-monitor gauges and the ICE-restart limiter's counters.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: netplay (application-level grouping)
//   - subsystem: media, room, inputsync (feature-level grouping)
//   - name: the specific metric
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks the current number of open rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netplay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of open rooms",
	})

	// RoomParticipants tracks the participant count of each room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netplay",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room"})

	// SlotOccupancy tracks whether a given slot in a room is occupied.
	SlotOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netplay",
		Subsystem: "room",
		Name:      "slot_occupied",
		Help:      "1 if the slot is occupied, 0 otherwise",
	}, []string{"room", "slot"})

	// MediaDrift tracks the measured audio/video drift reported by the
	// drift monitor, sampled every 5 seconds.
	MediaDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netplay",
		Subsystem: "media",
		Name:      "drift_milliseconds",
		Help:      "Measured media drift in milliseconds",
	}, []string{"room", "kind"})

	// IceRestartsTotal counts every ICE restart attempt, by outcome.
	IceRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "media",
		Name:      "ice_restarts_total",
		Help:      "Total ICE restart attempts",
	}, []string{"room", "status"})

	// IceRestartRateLimited counts restart attempts rejected by the 3s
	// rate limiter.
	IceRestartRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "media",
		Name:      "ice_restart_rate_limited_total",
		Help:      "Total ICE restart attempts rejected by the rate limiter",
	}, []string{"room"})

	// InputRetriesTotal counts input retries: InputSync's unordered-channel
	// resends and the daemon's relays of data-message fallback payloads.
	InputRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "inputsync",
		Name:      "retries_total",
		Help:      "Total input retries: unordered-channel resends and relayed data-message fallbacks",
	}, []string{"room"})

	// InputSendFailures counts inputs that failed to send on every
	// configured transport.
	InputSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netplay",
		Subsystem: "inputsync",
		Name:      "send_failures_total",
		Help:      "Total local inputs that failed to send over every configured transport",
	}, []string{"room"})
)
