package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Snapshot is a flat view of the umg_* metrics, built either from the local
// registry or from a scraped /metrics page.
type Snapshot struct {
	Version string
	Device  string
	Profile string

	VPNConnected   bool
	ConnectsOK     float64
	ConnectsFailed float64

	PollRunning      bool
	CyclesOK         float64
	CyclesFailed     float64
	EstimateSeconds  float64
	LastAlignSeconds float64
	CycleP50Seconds  float64

	DeviceReachable bool
	HTTPLatencyMs   *float64
	ModbusLatencyMs *float64

	Registers   []RegisterValue
	LastReading time.Time

	// Taken is when the snapshot was built; Err is set when a scrape failed.
	Taken time.Time
	Err   string
}

// RegisterValue is one exported register.
type RegisterValue struct {
	Name  string
	Unit  string
	Value float64
}

// Snapshot gathers the local registry.
func (c *Collector) Snapshot() (*Snapshot, error) {
	mfs, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	families := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		families[mf.GetName()] = mf
	}
	return FromFamilies(families), nil
}

// WriteText writes the registry in Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// DecodeText parses Prometheus text format into metric families by name.
func DecodeText(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	parsed := make(map[string]*dto.MetricFamily)
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		parsed[mf.GetName()] = &mf
	}
	return parsed, nil
}

// FromFamilies extracts a Snapshot. Missing families leave zero values.
func FromFamilies(mfs map[string]*dto.MetricFamily) *Snapshot {
	s := &Snapshot{Taken: time.Now()}

	if mf, ok := mfs[nameInfo]; ok && len(mf.GetMetric()) > 0 {
		m := mf.GetMetric()[0]
		s.Version = labelValue(m, "version")
		s.Device = labelValue(m, "device")
		s.Profile = labelValue(m, "profile")
	}

	s.VPNConnected = scalar(mfs, nameVPNConnected) == 1
	s.ConnectsOK = byLabel(mfs, nameVPNConnects, "result", ResultSuccess)
	s.ConnectsFailed = byLabel(mfs, nameVPNConnects, "result", ResultFailure)

	s.PollRunning = scalar(mfs, namePollRunning) == 1
	s.CyclesOK = byLabel(mfs, namePollCycles, "result", ResultSuccess)
	s.CyclesFailed = byLabel(mfs, namePollCycles, "result", ResultFailure)
	s.EstimateSeconds = scalar(mfs, namePollEstimate)
	s.LastAlignSeconds = scalar(mfs, namePollLastAlign)
	if mf, ok := mfs[namePollDuration]; ok && len(mf.GetMetric()) > 0 {
		s.CycleP50Seconds = histogramQuantile(mf.GetMetric()[0].GetHistogram(), 0.5)
	}

	s.DeviceReachable = scalar(mfs, nameDeviceReachable) == 1
	s.HTTPLatencyMs = optionalByLabel(mfs, nameDeviceLatency, "endpoint", "http")
	s.ModbusLatencyMs = optionalByLabel(mfs, nameDeviceLatency, "endpoint", "modbus")

	if mf, ok := mfs[nameRegisterValue]; ok {
		for _, m := range mf.GetMetric() {
			s.Registers = append(s.Registers, RegisterValue{
				Name:  labelValue(m, "register"),
				Unit:  labelValue(m, "unit"),
				Value: m.GetGauge().GetValue(),
			})
		}
		sort.Slice(s.Registers, func(i, j int) bool { return s.Registers[i].Name < s.Registers[j].Name })
	}
	if ts := scalar(mfs, nameLastReadingStamp); ts > 0 {
		sec := int64(ts)
		s.LastReading = time.Unix(sec, int64((ts-float64(sec))*1e9))
	}
	return s
}

// metricValue returns the value of a gauge, counter or untyped metric.
func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func scalar(mfs map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := mfs[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return 0
	}
	return metricValue(mf.GetMetric()[0])
}

func byLabel(mfs map[string]*dto.MetricFamily, name, label, value string) float64 {
	if v := optionalByLabel(mfs, name, label, value); v != nil {
		return *v
	}
	return 0
}

func optionalByLabel(mfs map[string]*dto.MetricFamily, name, label, value string) *float64 {
	mf, ok := mfs[name]
	if !ok {
		return nil
	}
	for _, m := range mf.GetMetric() {
		if labelValue(m, label) == value {
			v := metricValue(m)
			return &v
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// histogramQuantile estimates a quantile from cumulative buckets by linear
// interpolation inside the bucket that crosses the rank.
func histogramQuantile(h *dto.Histogram, q float64) float64 {
	if h == nil || h.GetSampleCount() == 0 {
		return 0
	}
	rank := q * float64(h.GetSampleCount())
	var prevBound float64
	var prevCount uint64
	for _, b := range h.GetBucket() {
		count := b.GetCumulativeCount()
		if float64(count) >= rank {
			inBucket := count - prevCount
			if inBucket == 0 {
				return b.GetUpperBound()
			}
			frac := (rank - float64(prevCount)) / float64(inBucket)
			return prevBound + (b.GetUpperBound()-prevBound)*frac
		}
		prevBound = b.GetUpperBound()
		prevCount = count
	}
	return prevBound
}
