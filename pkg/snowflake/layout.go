package snowflake

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// usableBits excludes the sign bit so every ID is a non-negative int64.
const usableBits = 63

// Layout is the bit allocation of an ID, most significant field first:
//
//	[ 0 | timestamp | node | sequence ]
//
// Fields need not fill all 63 usable bits; unused high bits stay zero.
type Layout struct {
	TimestampBits uint8
	NodeBits      uint8
	SequenceBits  uint8
}

// DefaultLayout is the classic 41/10/12 split: ~69 years of milliseconds,
// 1024 nodes, 4096 IDs per millisecond per node.
var DefaultLayout = Layout{TimestampBits: 41, NodeBits: 10, SequenceBits: 12}

// ParseLayout reads the "timestamp/node/sequence" form produced by String.
func ParseLayout(s string) (Layout, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Layout{}, newConfigError("layout", s, "want timestamp/node/sequence bit widths")
	}
	var widths [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return Layout{}, newConfigError("layout", s, "field %d: %v", i, err)
		}
		widths[i] = uint8(v)
	}
	l := Layout{TimestampBits: widths[0], NodeBits: widths[1], SequenceBits: widths[2]}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

func (l Layout) String() string {
	return fmt.Sprintf("%d/%d/%d", l.TimestampBits, l.NodeBits, l.SequenceBits)
}

func (l Layout) Validate() error {
	if l.TimestampBits == 0 || l.NodeBits == 0 || l.SequenceBits == 0 {
		return newConfigError("layout", l, "every field needs at least one bit")
	}
	total := int(l.TimestampBits) + int(l.NodeBits) + int(l.SequenceBits)
	if total > usableBits {
		return newConfigError("layout", l, "fields use %d bits, at most %d are available", total, usableBits)
	}
	return nil
}

func (l Layout) MaxTimestamp() int64 { return -1 ^ (-1 << l.TimestampBits) }
func (l Layout) MaxNode() int64      { return -1 ^ (-1 << l.NodeBits) }
func (l Layout) MaxSequence() int64  { return -1 ^ (-1 << l.SequenceBits) }

func (l Layout) timeShift() uint8 { return l.NodeBits + l.SequenceBits }
func (l Layout) nodeShift() uint8 { return l.SequenceBits }

// Lifespan is how long after the epoch the timestamp field overflows,
// saturating at the largest time.Duration.
func (l Layout) Lifespan() time.Duration {
	max := l.MaxTimestamp()
	if max >= math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(max+1) * time.Millisecond
}

// Pack assembles an ID. Any field outside its width is rejected rather than
// masked, so a bad input can never alias another ID.
func (l Layout) Pack(delta, node, seq int64) (ID, error) {
	if delta < 0 || delta > l.MaxTimestamp() {
		return 0, fmt.Errorf("timestamp delta %d outside [0, %d]: %w", delta, l.MaxTimestamp(), ErrFieldOverflow)
	}
	if node < 0 || node > l.MaxNode() {
		return 0, fmt.Errorf("node %d outside [0, %d]: %w", node, l.MaxNode(), ErrFieldOverflow)
	}
	if seq < 0 || seq > l.MaxSequence() {
		return 0, fmt.Errorf("sequence %d outside [0, %d]: %w", seq, l.MaxSequence(), ErrFieldOverflow)
	}
	return ID(delta<<l.timeShift() | node<<l.nodeShift() | seq), nil
}

// Unpack splits an ID into its timestamp delta, node and sequence fields.
func (l Layout) Unpack(id ID) (delta, node, seq int64) {
	v := int64(id)
	delta = v >> l.timeShift() & l.MaxTimestamp()
	node = v >> l.nodeShift() & l.MaxNode()
	seq = v & l.MaxSequence()
	return delta, node, seq
}
