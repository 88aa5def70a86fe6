package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors the broadcast server maintains. A nil
// *Metrics is valid everywhere and records nothing, so tests can skip
// instrumentation entirely.
type Metrics struct {
	OpenConnections prometheus.Gauge
	ActiveRooms     prometheus.Gauge
	Broadcasts      prometheus.Counter
	Deliveries      prometheus.Counter
	DroppedFrames   prometheus.Counter
	AuthFailures    prometheus.Counter
}

// New registers the server collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketroom",
			Name:      "open_connections",
			Help:      "Number of live websocket connections.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketroom",
			Name:      "active_rooms",
			Help:      "Number of ticket rooms with at least one member.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketroom",
			Name:      "broadcasts_total",
			Help:      "Number of room broadcast calls.",
		}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketroom",
			Name:      "deliveries_total",
			Help:      "Number of frames delivered to individual members.",
		}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketroom",
			Name:      "dropped_frames_total",
			Help:      "Frames shed under outbound queue pressure.",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketroom",
			Name:      "auth_failures_total",
			Help:      "Connection attempts rejected during the handshake.",
		}),
	}
}

// ConnOpened records a connection entering the Active state.
func (m *Metrics) ConnOpened() {
	if m != nil {
		m.OpenConnections.Inc()
	}
}

// ConnClosed records a connection cleanup.
func (m *Metrics) ConnClosed() {
	if m != nil {
		m.OpenConnections.Dec()
	}
}

// RoomCreated records a lazily created room.
func (m *Metrics) RoomCreated() {
	if m != nil {
		m.ActiveRooms.Inc()
	}
}

// RoomDeleted records a room whose member set became empty.
func (m *Metrics) RoomDeleted() {
	if m != nil {
		m.ActiveRooms.Dec()
	}
}

// Broadcast records one fan-out call delivering to n members.
func (m *Metrics) Broadcast(n int) {
	if m != nil {
		m.Broadcasts.Inc()
		m.Deliveries.Add(float64(n))
	}
}

// FrameDropped records a frame shed from a full outbound queue.
func (m *Metrics) FrameDropped() {
	if m != nil {
		m.DroppedFrames.Inc()
	}
}

// AuthFailed records a rejected handshake.
func (m *Metrics) AuthFailed() {
	if m != nil {
		m.AuthFailures.Inc()
	}
}
