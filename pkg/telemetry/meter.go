package telemetry

import (
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// MeterDelegate is the stable metric.Meter handle returned by Provider.Meter,
// the metrics twin of TracerDelegate. Instrument creation goes to the current
// target; instruments created before a reconfiguration keep recording against
// the backend that built them, so components that outlive reconfigurations
// should re-create their instruments afterwards.
type MeterDelegate struct {
	embedded.Meter
	target atomic.Pointer[metric.Meter]
}

func newMeterDelegate() *MeterDelegate {
	d := &MeterDelegate{}
	d.setTarget(noopMeter())
	return d
}

func noopMeter() metric.Meter {
	return metricnoop.NewMeterProvider().Meter(ScopeName)
}

func (d *MeterDelegate) setTarget(m metric.Meter) {
	d.target.Store(&m)
}

func (d *MeterDelegate) load() metric.Meter {
	return *d.target.Load()
}

func (d *MeterDelegate) Int64Counter(name string, options ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return d.load().Int64Counter(name, options...)
}

func (d *MeterDelegate) Int64UpDownCounter(name string, options ...metric.Int64UpDownCounterOption) (metric.Int64UpDownCounter, error) {
	return d.load().Int64UpDownCounter(name, options...)
}

func (d *MeterDelegate) Int64Histogram(name string, options ...metric.Int64HistogramOption) (metric.Int64Histogram, error) {
	return d.load().Int64Histogram(name, options...)
}

func (d *MeterDelegate) Int64Gauge(name string, options ...metric.Int64GaugeOption) (metric.Int64Gauge, error) {
	return d.load().Int64Gauge(name, options...)
}

func (d *MeterDelegate) Int64ObservableCounter(name string, options ...metric.Int64ObservableCounterOption) (metric.Int64ObservableCounter, error) {
	return d.load().Int64ObservableCounter(name, options...)
}

func (d *MeterDelegate) Int64ObservableUpDownCounter(name string, options ...metric.Int64ObservableUpDownCounterOption) (metric.Int64ObservableUpDownCounter, error) {
	return d.load().Int64ObservableUpDownCounter(name, options...)
}

func (d *MeterDelegate) Int64ObservableGauge(name string, options ...metric.Int64ObservableGaugeOption) (metric.Int64ObservableGauge, error) {
	return d.load().Int64ObservableGauge(name, options...)
}

func (d *MeterDelegate) Float64Counter(name string, options ...metric.Float64CounterOption) (metric.Float64Counter, error) {
	return d.load().Float64Counter(name, options...)
}

func (d *MeterDelegate) Float64UpDownCounter(name string, options ...metric.Float64UpDownCounterOption) (metric.Float64UpDownCounter, error) {
	return d.load().Float64UpDownCounter(name, options...)
}

func (d *MeterDelegate) Float64Histogram(name string, options ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return d.load().Float64Histogram(name, options...)
}

func (d *MeterDelegate) Float64Gauge(name string, options ...metric.Float64GaugeOption) (metric.Float64Gauge, error) {
	return d.load().Float64Gauge(name, options...)
}

func (d *MeterDelegate) Float64ObservableCounter(name string, options ...metric.Float64ObservableCounterOption) (metric.Float64ObservableCounter, error) {
	return d.load().Float64ObservableCounter(name, options...)
}

func (d *MeterDelegate) Float64ObservableUpDownCounter(name string, options ...metric.Float64ObservableUpDownCounterOption) (metric.Float64ObservableUpDownCounter, error) {
	return d.load().Float64ObservableUpDownCounter(name, options...)
}

func (d *MeterDelegate) Float64ObservableGauge(name string, options ...metric.Float64ObservableGaugeOption) (metric.Float64ObservableGauge, error) {
	return d.load().Float64ObservableGauge(name, options...)
}

func (d *MeterDelegate) RegisterCallback(f metric.Callback, instruments ...metric.Observable) (metric.Registration, error) {
	return d.load().RegisterCallback(f, instruments...)
}

var _ metric.Meter = (*MeterDelegate)(nil)
