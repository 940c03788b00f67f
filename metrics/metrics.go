// Package metrics defines the recording surface the protocol packages
// emit through. The merchant counts requests, completed and failed
// payments, and observes settlement latency; hosts choose the backend.
package metrics

import "time"

// Recorder receives protocol events and latencies.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder drops every observation.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
