package solaibot

import (
	"time"

	"github.com/quantaliz/solaibot/logger"
	"github.com/quantaliz/solaibot/metrics"
)

type Option func(*Paywall)

// WithLogger sets the logger used by all components.
func WithLogger(l logger.Logger) Option {
	return func(p *Paywall) {
		p.log = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Paywall) {
		p.rec = r
	}
}

// WithPollPolicy overrides the settlement confirmation polling interval
// and attempt bound.
func WithPollPolicy(interval time.Duration, maxAttempts int) Option {
	return func(p *Paywall) {
		p.settler.SetPollPolicy(interval, maxAttempts)
	}
}
