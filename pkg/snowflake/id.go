package snowflake

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/jxskiss/base62"
)

// ID is a generated identifier. It is always non-negative.
type ID int64

func (id ID) Int64() int64 { return int64(id) }

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Base62 is a compact, URL-safe form that preserves neither length nor sort
// order. Use String or Int64 where ordering matters.
func (id ID) Base62() string { return string(base62.FormatUint(uint64(id))) }

func ParseString(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snowflake: parse id %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("snowflake: parse id %q: negative", s)
	}
	return ID(v), nil
}

func ParseBase62(s string) (ID, error) {
	v, err := base62.ParseUint([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("snowflake: parse base62 id %q: %w", s, err)
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("snowflake: parse base62 id %q: out of range", s)
	}
	return ID(v), nil
}

// MarshalJSON writes the ID as a quoted decimal; int64 values above 2^53
// lose precision in JavaScript numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts both the quoted form and a bare number.
func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	v, err := ParseString(string(bytes.Trim(b, `"`)))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
