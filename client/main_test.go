package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/flakeid/pkg/snowflake"
)

func TestIDDecoder(t *testing.T) {
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	id, err := node.Generate()
	require.NoError(t, err)

	dec := idDecoder{layout: snowflake.DefaultLayout, epoch: snowflake.DefaultEpoch}
	parts := node.Decompose(id)
	want := parts.Time.Local().Format("15:04:05.000") + " n5 #0"
	assert.Equal(t, want, dec.describe(id))
	assert.WithinDuration(t, time.Now(), parts.Time, time.Minute)
	assert.Equal(t, "unstamped", dec.describe(0))
}

func runDecode(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(hclog.NewNullLogger())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"decode"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	// 1000 ms after the default epoch, node 3, sequence 9.
	id, err := snowflake.DefaultLayout.Pack(1000, 3, 9)
	require.NoError(t, err)

	out, err := runDecode(t, id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "time=2024-01-01T00:00:01Z")
	assert.Contains(t, out, "node=3\tseq=9")

	out, err = runDecode(t, "--base62", id.Base62())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, id.String()+"\t"))

	_, err = runDecode(t, "--layout", "41/12/10", id.String())
	require.NoError(t, err)

	_, err = runDecode(t, "not-an-id")
	assert.Error(t, err)
	_, err = runDecode(t, "--layout", "60/10/12", id.String())
	assert.Error(t, err)
	_, err = runDecode(t)
	assert.Error(t, err)
}
