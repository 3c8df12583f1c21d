// Package observe holds the OpenTelemetry instruments of the broadcaster and
// the provider setup that exposes them to Prometheus.
//
// Components take a *Metrics so tests can build one from a manual reader with
// NewMetrics; DefaultMetrics uses the global meter provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/glizzus/srs-radio"

// Metrics holds every instrument. The OTel types are safe for concurrent use.
type Metrics struct {
	// FramesSent counts voice packets handed to the socket.
	FramesSent metric.Int64Counter
	// SendErrors counts voice packets that were dropped.
	SendErrors metric.Int64Counter
	// BytesSent counts voice packet bytes, headers included.
	BytesSent metric.Int64Counter
	// Heartbeats counts control pings. Use with attribute.String("status", ...).
	Heartbeats metric.Int64Counter
	// Transitions counts session state changes. Use with attribute.String("state", ...).
	Transitions metric.Int64Counter
	// Resyncs counts pacing re-anchors after the scheduler fell behind.
	Resyncs metric.Int64Counter
	// Loops counts playlist restarts.
	Loops metric.Int64Counter
	// SendLateness is how far past its deadline each frame went out.
	SendLateness metric.Float64Histogram
}

var latenessBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.1,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("srs_radio.voice.frames_sent",
		metric.WithDescription("Voice packets sent to the relay."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("srs_radio.voice.send_errors",
		metric.WithDescription("Voice packets dropped because serialization or the send failed."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("srs_radio.voice.bytes_sent",
		metric.WithDescription("Voice packet bytes sent to the relay."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Heartbeats, err = m.Int64Counter("srs_radio.control.heartbeats",
		metric.WithDescription("Control channel pings by status."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("srs_radio.session.transitions",
		metric.WithDescription("Session state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.Resyncs, err = m.Int64Counter("srs_radio.playback.resyncs",
		metric.WithDescription("Times pacing was re-anchored after falling behind."),
	); err != nil {
		return nil, err
	}
	if met.Loops, err = m.Int64Counter("srs_radio.playback.loops",
		metric.WithDescription("Times the playlist restarted from the first frame."),
	); err != nil {
		return nil, err
	}
	if met.SendLateness, err = m.Float64Histogram("srs_radio.playback.send_lateness",
		metric.WithDescription("Delay between a frame's deadline and its send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latenessBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from
// otel.GetMeterProvider on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordHeartbeat(ctx context.Context, status string) {
	m.Heartbeats.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) RecordLateness(ctx context.Context, d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.SendLateness.Record(ctx, d.Seconds())
}
