package snowflake

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DriftPolicy decides what Generate does when the clock reads earlier than
// the last issued timestamp.
type DriftPolicy int

const (
	// DriftWait sleeps until the clock catches up, provided the drift is
	// within the node's tolerance. Larger drift fails with ClockDriftError.
	DriftWait DriftPolicy = iota
	// DriftReject fails with ClockDriftError on any backward step.
	DriftReject
)

func (p DriftPolicy) String() string {
	switch p {
	case DriftWait:
		return "wait"
	case DriftReject:
		return "reject"
	}
	return fmt.Sprintf("DriftPolicy(%d)", int(p))
}

func ParseDriftPolicy(s string) (DriftPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return DriftWait, nil
	case "reject":
		return DriftReject, nil
	}
	return 0, newConfigError("drift policy", s, "want wait or reject")
}

const (
	DefaultMaxDrift = 10 * time.Millisecond
	DefaultMaxWait  = time.Second

	// waitStep is the sleep between clock reads while waiting for a
	// millisecond to pass.
	waitStep = 100 * time.Microsecond
)

// DefaultEpoch is 2024-01-01T00:00:00Z.
var DefaultEpoch = time.UnixMilli(1704067200000).UTC()

type options struct {
	epoch    time.Time
	layout   Layout
	clock    Clock
	policy   DriftPolicy
	maxDrift time.Duration
	maxWait  time.Duration
	logger   hclog.Logger
}

func defaultOptions() options {
	return options{
		epoch:    DefaultEpoch,
		layout:   DefaultLayout,
		clock:    SystemClock,
		policy:   DriftWait,
		maxDrift: DefaultMaxDrift,
		maxWait:  DefaultMaxWait,
		logger:   hclog.NewNullLogger(),
	}
}

type Option func(*options)

// WithEpoch sets the reference instant. It must not be after the clock's
// current reading and should never change for a deployed system.
func WithEpoch(epoch time.Time) Option {
	return func(o *options) { o.epoch = epoch }
}

func WithLayout(l Layout) Option {
	return func(o *options) { o.layout = l }
}

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithDriftPolicy(p DriftPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMaxDrift is the largest backward step DriftWait will sleep through.
func WithMaxDrift(d time.Duration) Option {
	return func(o *options) { o.maxDrift = d }
}

// WithMaxWait caps the time Generate spends waiting for the clock, after
// which it returns ErrClockStalled.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

func WithLogger(l hclog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func (o *options) validate() error {
	if err := o.layout.Validate(); err != nil {
		return err
	}
	if o.clock == nil {
		return newConfigError("clock", nil, "a clock is required")
	}
	if o.logger == nil {
		return newConfigError("logger", nil, "a logger is required")
	}
	if o.policy != DriftWait && o.policy != DriftReject {
		return newConfigError("drift policy", o.policy, "want wait or reject")
	}
	if o.maxDrift < 0 {
		return newConfigError("max drift", o.maxDrift, "must not be negative")
	}
	if o.maxWait < waitStep {
		return newConfigError("max wait", o.maxWait, "must be at least %v", waitStep)
	}
	if now := o.clock.Now(); o.epoch.After(now) {
		return newConfigError("epoch", o.epoch.Format(time.RFC3339Nano), "is after the current time %s", now.Format(time.RFC3339Nano))
	}
	return nil
}
