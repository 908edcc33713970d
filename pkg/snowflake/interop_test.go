package snowflake

import (
	"testing"

	bwsnowflake "github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The default layout is bit-compatible with bwmarrin/snowflake, which other
// services may already use to read our IDs.
func TestDefaultLayout_MatchesBwmarrin(t *testing.T) {
	n := newTestNode(t, 513, newFakeClock(testStart))
	for i := 0; i < 3; i++ {
		id := mustGenerate(t, n)
		p := n.Decompose(id)

		theirs := bwsnowflake.ParseInt64(id.Int64())
		assert.Equal(t, p.Node, theirs.Node())
		assert.Equal(t, p.Sequence, theirs.Step())
		assert.Equal(t, p.Delta, theirs.Time()-bwsnowflake.Epoch)
	}

	theirNode, err := bwsnowflake.NewNode(17)
	require.NoError(t, err)
	_, node, _ := DefaultLayout.Unpack(ID(theirNode.Generate().Int64()))
	assert.Equal(t, int64(17), node)
}
