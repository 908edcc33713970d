// Package snowflake issues time-ordered, unique 64-bit IDs.
//
// A Node owns one node id and hands out IDs to any number of goroutines. IDs
// from one Node strictly increase; IDs from Nodes with different node ids
// never collide. Assigning node ids so that no two live Nodes share one is
// up to the caller (see package nodeid).
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
)

type Node struct {
	mu   sync.Mutex
	time int64 // ms since epoch of the last issued ID, -1 before the first
	step int64
	// exhausted latches the capacity error; the Node is unusable after it.
	exhausted error

	node      int64
	epoch     time.Time
	epochMS   int64
	layout    Layout
	maxTime   int64
	stepMask  int64
	timeShift uint8
	nodeShift uint8

	clock    Clock
	policy   DriftPolicy
	maxDrift time.Duration
	maxWait  time.Duration
	logger   hclog.Logger
	labels   []metrics.Label

	stats struct {
		generated   atomic.Int64
		overflows   atomic.Int64
		driftWaits  atomic.Int64
		driftErrors atomic.Int64
	}
}

// Stats are cumulative counters for one Node.
type Stats struct {
	Generated         int64
	SequenceOverflows int64
	DriftWaits        int64
	DriftErrors       int64
}

// Parts is a decomposed ID.
type Parts struct {
	Time     time.Time
	Delta    int64
	Node     int64
	Sequence int64
}

func NewNode(node int64, opts ...Option) (*Node, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if node < 0 || node > o.layout.MaxNode() {
		return nil, newConfigError("node", node, "must be between 0 and %d", o.layout.MaxNode())
	}

	n := &Node{
		time:      -1,
		node:      node,
		epoch:     o.epoch,
		epochMS:   o.epoch.UnixMilli(),
		layout:    o.layout,
		maxTime:   o.layout.MaxTimestamp(),
		stepMask:  o.layout.MaxSequence(),
		timeShift: o.layout.timeShift(),
		nodeShift: o.layout.nodeShift(),
		clock:     o.clock,
		policy:    o.policy,
		maxDrift:  o.maxDrift,
		maxWait:   o.maxWait,
		logger:    o.logger.With("node", node),
		labels:    []metrics.Label{{Name: "node", Value: strconv.FormatInt(node, 10)}},
	}
	return n, nil
}

func (n *Node) ID() int64           { return n.node }
func (n *Node) Epoch() time.Time    { return n.epoch }
func (n *Node) Layout() Layout      { return n.layout }
func (n *Node) Policy() DriftPolicy { return n.policy }

func (n *Node) Stats() Stats {
	return Stats{
		Generated:         n.stats.generated.Load(),
		SequenceOverflows: n.stats.overflows.Load(),
		DriftWaits:        n.stats.driftWaits.Load(),
		DriftErrors:       n.stats.driftErrors.Load(),
	}
}

// Generate returns the next ID. It blocks for at most a few milliseconds
// when the sequence for the current millisecond is used up, or when the
// clock stepped back by no more than the drift tolerance under DriftWait.
//
// On error no ID is issued and the node's state is unchanged, so a later
// call cannot produce a duplicate.
func (n *Node) Generate() (ID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.exhausted != nil {
		return 0, n.exhausted
	}

	now := n.millis()
	if now < 0 {
		return 0, fmt.Errorf("%dms relative to epoch %s: %w", now, n.epoch.Format(time.RFC3339), ErrBeforeEpoch)
	}

	if now < n.time {
		drift := time.Duration(n.time-now) * time.Millisecond
		if n.policy == DriftReject || drift > n.maxDrift {
			n.stats.driftErrors.Add(1)
			metrics.IncrCounterWithLabels([]string{"snowflake", "drift_error"}, 1, n.labels)
			n.logger.Error("clock moved backwards", "drift", drift, "policy", n.policy)
			return 0, &ClockDriftError{Drift: drift, Last: n.time, Now: now}
		}
		var err error
		if now, err = n.waitUntil(n.time); err != nil {
			n.stats.driftErrors.Add(1)
			metrics.IncrCounterWithLabels([]string{"snowflake", "drift_error"}, 1, n.labels)
			return 0, fmt.Errorf("%w: %w", &ClockDriftError{Drift: drift, Last: n.time, Now: now}, err)
		}
		n.stats.driftWaits.Add(1)
		metrics.IncrCounterWithLabels([]string{"snowflake", "drift_wait"}, 1, n.labels)
		n.logger.Warn("waited out clock drift", "drift", drift)
	}

	var step int64
	if now == n.time {
		step = (n.step + 1) & n.stepMask
		if step == 0 {
			n.stats.overflows.Add(1)
			metrics.IncrCounterWithLabels([]string{"snowflake", "sequence_overflow"}, 1, n.labels)
			var err error
			if now, err = n.waitUntil(n.time + 1); err != nil {
				return 0, err
			}
		}
	}

	if now > n.maxTime {
		n.exhausted = &CapacityExhaustedError{Delta: now, Max: n.maxTime}
		n.logger.Error("timestamp capacity exhausted", "epoch", n.epoch, "layout", n.layout.String())
		return 0, n.exhausted
	}

	n.time = now
	n.step = step
	n.stats.generated.Add(1)
	metrics.IncrCounterWithLabels([]string{"snowflake", "generated"}, 1, n.labels)

	return ID(now<<n.timeShift | n.node<<n.nodeShift | step), nil
}

// millis is the clock reading in milliseconds since the epoch.
func (n *Node) millis() int64 {
	return n.clock.Now().UnixMilli() - n.epochMS
}

// waitUntil sleeps in small steps until the clock reads at least target.
func (n *Node) waitUntil(target int64) (int64, error) {
	now := n.millis()
	for waited := time.Duration(0); now < target; waited += waitStep {
		if waited >= n.maxWait {
			n.logger.Error("clock stalled", "waited", waited, "target", target, "now", now)
			return 0, fmt.Errorf("waited %v for %dms, clock reads %dms: %w", waited, target, now, ErrClockStalled)
		}
		n.clock.Sleep(waitStep)
		now = n.millis()
	}
	return now, nil
}

// Decompose splits id using this node's layout and epoch. The id need not
// come from this node.
func (n *Node) Decompose(id ID) Parts {
	delta, node, seq := n.layout.Unpack(id)
	return Parts{
		Time:     n.epoch.Add(time.Duration(delta) * time.Millisecond),
		Delta:    delta,
		Node:     node,
		Sequence: seq,
	}
}

// BoundaryID is the smallest ID any node sharing this layout and epoch can
// issue at or after t; every ID issued before t is smaller.
func (n *Node) BoundaryID(t time.Time) (ID, error) {
	delta := t.UnixMilli() - n.epochMS
	if delta < 0 {
		return 0, fmt.Errorf("%s: %w", t.Format(time.RFC3339), ErrBeforeEpoch)
	}
	if delta > n.maxTime {
		return 0, &CapacityExhaustedError{Delta: delta, Max: n.maxTime}
	}
	return ID(delta << n.timeShift), nil
}
