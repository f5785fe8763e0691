package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/depth.stream/internal/rgbd/reassembly"
)

// Drop reasons, used as the "reason" label of rgbd_dropped_messages_total
// and as keys of Stats.Dropped.
const (
	DropShort       = "short"
	DropUnknownType = "unknown_type"
	DropRowRange    = "row_range"
	DropNoConfig    = "no_config"
	DropUnsupported = "unsupported"
	DropDecode      = "decode"
)

// metrics are registered per Decoder so that several decoders (and tests)
// do not collide in the default registry.
type metrics struct {
	messages *prometheus.CounterVec
	drops    *prometheus.CounterVec
	panics   prometheus.Counter
	configs  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, d *Decoder) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rgbd_messages_total",
				Help: "Total number of stream messages dispatched",
			},
			[]string{"type"},
		),
		drops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rgbd_dropped_messages_total",
				Help: "Total number of stream messages discarded before reassembly",
			},
			[]string{"reason"},
		),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name: "rgbd_dispatch_panics_total",
			Help: "Total number of recovered panics while handling a message",
		}),
		configs: f.NewCounter(prometheus.CounterOpts{
			Name: "rgbd_configs_total",
			Help: "Total number of device Config messages applied",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rgbd_output_queue_length",
		Help: "Committed frames waiting for the renderer",
	}, func() float64 { return float64(d.output.Len()) })

	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "rgbd_frames_collapsed_total",
		Help: "Committed frames skipped because a newer one was queued",
	}, func() float64 { return float64(d.output.Collapsed()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rgbd_device_state",
		Help: "Device state (0=idle, 1=live, 2=replaying)",
	}, func() float64 { return float64(d.machine.State()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rgbd_body_queue_length",
		Help: "Body frames waiting for the consumer",
	}, func() float64 { return float64(d.bodies.Len()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rgbd_audio_queue_length",
		Help: "Audio frames waiting for the consumer",
	}, func() float64 { return float64(d.audio.Len()) })

	// Processor gauges read zero until the first Config.
	procGauge := func(name, help string, v func(s reassembly.Stats) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			s, ok := d.processorStats()
			if !ok {
				return 0
			}
			return v(s)
		})
	}
	procGauge("rgbd_watermark", "Timestamp of the last committed frame",
		func(s reassembly.Stats) float64 { return float64(s.Watermark) })
	procGauge("rgbd_frames_committed", "Frames committed by the current processor",
		func(s reassembly.Stats) float64 { return float64(s.Committed) })
	procGauge("rgbd_pool_free", "Free frame buffers in the current pool",
		func(s reassembly.Stats) float64 { return float64(s.Pool.Free) })
	procGauge("rgbd_pool_held", "Frame buffers held by the renderer",
		func(s reassembly.Stats) float64 { return float64(s.Pool.Held) })
	procGauge("rgbd_pending_frames", "Partially assembled frames",
		func(s reassembly.Stats) float64 { return float64(s.Pending) })

	return m
}
