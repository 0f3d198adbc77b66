// Package otel publishes tabsync client metrics through OpenTelemetry.
//
// [New] registers one Int64ObservableCounter per client counter and, per
// histogram, a cumulative "_bucket" gauge keyed by the "le" attribute plus a
// "_count" gauge. Every observation carries a "context" attribute naming the
// client, so several contexts can share one Meter.
//
// The Meter and its provider belong to the caller.
package otel
