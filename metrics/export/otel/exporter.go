package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is satisfied by *authcore.Engine.
type Source interface {
	Metrics() *metrics.Collectors
	AuditDropped() uint64
}

type observedFamily struct {
	vec        *prometheus.CounterVec
	instrument metric.Float64ObservableCounter
}

// Exporter observes every collector on each collection cycle.
type Exporter struct {
	source       Source
	registration metric.Registration
	families     []observedFamily
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers observable counters on meter mirroring source's
// collectors. Close unregisters them.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil || source.Metrics() == nil {
		return nil, ErrNilSource
	}

	defs := source.Metrics().Families()
	exporter := &Exporter{
		source:   source,
		families: make([]observedFamily, 0, len(defs)),
	}
	observables := make([]metric.Observable, 0, len(defs)+1)

	for _, def := range defs {
		ins, err := meter.Float64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.families = append(exporter.families, observedFamily{vec: def.Vec, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	for _, f := range e.families {
		ch := make(chan prometheus.Metric)
		go func() {
			f.vec.Collect(ch)
			close(ch)
		}()
		for m := range ch {
			var d dto.Metric
			if err := m.Write(&d); err != nil {
				continue
			}
			attrs := make([]attribute.KeyValue, 0, len(d.GetLabel()))
			for _, l := range d.GetLabel() {
				attrs = append(attrs, attribute.String(l.GetName(), l.GetValue()))
			}
			observer.ObserveFloat64(f.instrument, d.GetCounter().GetValue(), metric.WithAttributes(attrs...))
		}
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
