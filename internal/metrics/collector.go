// Package metrics provides Prometheus metrics for umg-vpn-poller.
//
// Metrics are grouped by the component that feeds them:
//   - VPN: tunnel state and connect attempts
//   - Poll: cycle outcomes, durations, alignment and the runtime estimate
//   - Device: reachability, latencies and the last register values
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metric names, shared with the snapshot extractor.
const (
	nameInfo             = "umg_info"
	nameVPNConnected     = "umg_vpn_connected"
	nameVPNConnects      = "umg_vpn_connect_total"
	nameVPNConnectTime   = "umg_vpn_connect_duration_seconds"
	namePollRunning      = "umg_poll_running"
	namePollCycles       = "umg_poll_cycles_total"
	namePollDuration     = "umg_poll_cycle_duration_seconds"
	namePollEstimate     = "umg_poll_runtime_estimate_seconds"
	namePollAlignment    = "umg_poll_alignment_error_seconds"
	namePollLastAlign    = "umg_poll_last_alignment_error_seconds"
	nameDeviceReachable  = "umg_device_reachable"
	nameDeviceLatency    = "umg_device_latency_ms"
	nameRegisterValue    = "umg_register_value"
	nameLastReadingStamp = "umg_last_reading_timestamp_seconds"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CollectorConfig holds the static labels of umg_info.
type CollectorConfig struct {
	Version string
	Device  string
	Profile string

	// ProcessMetrics adds the Go runtime and process collectors.
	ProcessMetrics bool
}

// Collector owns every umg_* metric and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	info *prometheus.GaugeVec

	vpnConnected   prometheus.Gauge
	vpnConnects    *prometheus.CounterVec
	vpnConnectTime prometheus.Histogram

	pollRunning   prometheus.Gauge
	pollCycles    *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	pollEstimate  prometheus.Gauge
	pollAlignment prometheus.Histogram
	pollLastAlign prometheus.Gauge

	deviceReachable prometheus.Gauge
	deviceLatency   *prometheus.GaugeVec
	registerValue   *prometheus.GaugeVec
	lastReading     prometheus.Gauge

	mu        sync.Mutex
	registers map[string]string // name -> unit label currently exported
}

// NewCollector creates a collector on a fresh registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector registered on registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: nameInfo,
			Help: "Information about the poller (value always 1)",
		}, []string{"version", "device", "profile"}),

		vpnConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: nameVPNConnected,
			Help: "1 when the tunnel is up and the VPN gateway answers",
		}),
		vpnConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: nameVPNConnects,
			Help: "VPN connect attempts by result",
		}, []string{"result"}),
		vpnConnectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    nameVPNConnectTime,
			Help:    "Time from process start to a usable tunnel",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
		}),

		pollRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namePollRunning,
			Help: "1 while the background poller is active",
		}),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namePollCycles,
			Help: "Poll cycles by result",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    namePollDuration,
			Help:    "Wall time of one poll cycle including VPN setup and teardown",
			Buckets: []float64{1, 2.5, 5, 7.5, 10, 15, 20, 30, 45, 60},
		}),
		pollEstimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namePollEstimate,
			Help: "Smoothed cycle runtime used as wake-up lead time",
		}),
		pollAlignment: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    namePollAlignment,
			Help:    "Absolute distance between the register read and its target",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		pollLastAlign: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: namePollLastAlign,
			Help: "Signed alignment error of the last aligned read (positive = late)",
		}),

		deviceReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: nameDeviceReachable,
			Help: "1 when the last health check reached the Modbus port",
		}),
		deviceLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: nameDeviceLatency,
			Help: "Last connect latency to the device by endpoint",
		}, []string{"endpoint"}),
		registerValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: nameRegisterValue,
			Help: "Last decoded register value",
		}, []string{"register", "unit"}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: nameLastReadingStamp,
			Help: "Unix time of the last register read",
		}),

		registers: make(map[string]string),
	}

	registry.MustRegister(
		c.info,
		c.vpnConnected, c.vpnConnects, c.vpnConnectTime,
		c.pollRunning, c.pollCycles, c.pollDuration, c.pollEstimate, c.pollAlignment, c.pollLastAlign,
		c.deviceReachable, c.deviceLatency, c.registerValue, c.lastReading,
	)
	if cfg.ProcessMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Device, cfg.Profile).Set(1)

	// Pre-create result series so rate() works from the first scrape.
	for _, r := range []string{ResultSuccess, ResultFailure} {
		c.vpnConnects.WithLabelValues(r)
		c.pollCycles.WithLabelValues(r)
	}

	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// Update Methods
// =============================================================================

// SetVPNConnected records the current tunnel state.
func (c *Collector) SetVPNConnected(up bool) {
	c.vpnConnected.Set(boolToFloat(up))
}

// RecordConnect records one connect attempt.
func (c *Collector) RecordConnect(elapsed time.Duration, err error) {
	if err != nil {
		c.vpnConnects.WithLabelValues(ResultFailure).Inc()
		return
	}
	c.vpnConnects.WithLabelValues(ResultSuccess).Inc()
	c.vpnConnectTime.Observe(elapsed.Seconds())
	c.vpnConnected.Set(1)
}

// SetPollRunning records whether the background poller is active.
func (c *Collector) SetPollRunning(running bool) {
	c.pollRunning.Set(boolToFloat(running))
}

// CycleObservation is one finished poll cycle.
type CycleObservation struct {
	Duration time.Duration
	Estimate time.Duration
	// Alignment is read time minus target; only meaningful when Aligned.
	Alignment time.Duration
	Aligned   bool
	Err       error
}

// RecordCycle records a finished poll cycle.
func (c *Collector) RecordCycle(o CycleObservation) {
	c.pollDuration.Observe(o.Duration.Seconds())
	c.pollEstimate.Set(o.Estimate.Seconds())
	if o.Err != nil {
		c.pollCycles.WithLabelValues(ResultFailure).Inc()
		return
	}
	c.pollCycles.WithLabelValues(ResultSuccess).Inc()
	if o.Aligned {
		c.pollAlignment.Observe(math.Abs(o.Alignment.Seconds()))
		c.pollLastAlign.Set(o.Alignment.Seconds())
	}
}

// SetEstimate records the runtime estimate outside a cycle (at start).
func (c *Collector) SetEstimate(d time.Duration) {
	c.pollEstimate.Set(d.Seconds())
}

// RecordHealth records a device health check. Nil latencies remove the
// corresponding series.
func (c *Collector) RecordHealth(reachable bool, httpMs, modbusMs *float64) {
	c.deviceReachable.Set(boolToFloat(reachable))
	setOrDelete(c.deviceLatency, httpMs, "http")
	setOrDelete(c.deviceLatency, modbusMs, "modbus")
}

// RegisterSample is one register value to export.
type RegisterSample struct {
	Name  string
	Unit  string
	Value *float64
}

// RecordReadings replaces the exported register values. Registers without
// a value are removed so stale readings do not linger.
func (c *Collector) RecordReadings(at time.Time, samples []RegisterSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range samples {
		if unit, ok := c.registers[s.Name]; ok && (unit != s.Unit || s.Value == nil) {
			c.registerValue.DeleteLabelValues(s.Name, unit)
			delete(c.registers, s.Name)
		}
		if s.Value == nil {
			continue
		}
		c.registerValue.WithLabelValues(s.Name, s.Unit).Set(*s.Value)
		c.registers[s.Name] = s.Unit
	}
	c.lastReading.Set(float64(at.UnixNano()) / 1e9)
}

func setOrDelete(vec *prometheus.GaugeVec, v *float64, label string) {
	if v == nil {
		vec.DeleteLabelValues(label)
		return
	}
	vec.WithLabelValues(label).Set(*v)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
