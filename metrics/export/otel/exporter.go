package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/tabsync"
	"github.com/MrEthical07/tabsync/metrics/export/internaldefs"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no metrics source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection. *tabsync.Client
// implements it.
type Source interface {
	ID() string
	MetricsSnapshot() tabsync.MetricsSnapshot
	AlertDropped() uint64
}

type histogramInstruments struct {
	id      tabsync.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter keeps the collection callback of one source registered.
type Exporter struct {
	registration metric.Registration
}

// New registers instruments on meter that read from source.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	contextAttr := attribute.String("context", source.ID())
	self := metric.WithAttributes(contextAttr)
	bucketAttrs := make([]metric.ObserveOption, len(internaldefs.HistogramBounds))
	for i, le := range internaldefs.HistogramBounds {
		bucketAttrs[i] = metric.WithAttributes(contextAttr, attribute.String("le", le))
	}

	var observables []metric.Observable
	counters := make(map[tabsync.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		counters[def.ID] = ins
		observables = append(observables, ins)
	}

	histograms := make([]histogramInstruments, 0, len(internaldefs.HistogramDefs))
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		histograms = append(histograms, histogramInstruments{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	dropped, err := meter.Int64ObservableCounter("tabsync_alert_dropped_total",
		metric.WithDescription("Alerts dropped under dispatcher backpressure."))
	if err != nil {
		return nil, fmt.Errorf("otel: alert dropped counter: %w", err)
	}
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snapshot := source.MetricsSnapshot()
		for id, ins := range counters {
			o.ObserveInt64(ins, int64(snapshot.Counters[id]), self)
		}
		for _, h := range histograms {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
			for i, v := range cumulative {
				o.ObserveInt64(h.buckets, int64(v), bucketAttrs[i])
			}
			o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), self)
		}
		o.ObserveInt64(dropped, int64(source.AlertDropped()), self)
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return &Exporter{registration: registration}, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
