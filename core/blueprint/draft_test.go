package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraft_LockChangesOnMutation(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)
	before := d.VersionLock
	require.NotEmpty(t, before)

	d.RecordPrompt("add a summarizer node")
	require.NoError(t, d.Reseal())

	assert.NotEqual(t, before, d.VersionLock)
}

func TestDraft_LockDeterministic(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)

	first, err := d.ComputeLock()
	require.NoError(t, err)
	second, err := d.ComputeLock()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDraft_LockMatches(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)

	assert.True(t, d.LockMatches(d.VersionLock))
	assert.False(t, d.LockMatches("stale"))
	assert.False(t, d.LockMatches(""))
}

func TestDraft_LockExcludesLockField(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)

	// Tampering with the stored lock must not change what the
	// canonical hash covers.
	expected, err := d.ComputeLock()
	require.NoError(t, err)
	d.VersionLock = "garbage"
	recomputed, err := d.ComputeLock()
	require.NoError(t, err)

	assert.Equal(t, expected, recomputed)
}

func TestDraft_NodeLocking(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)

	d.LockNode("fetch")
	d.LockNode("fetch")

	assert.True(t, d.NodeLocked("fetch"))
	assert.False(t, d.NodeLocked("other"))
	assert.Len(t, d.LockedNodes, 1)
}

func TestDraft_Positions(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)

	d.SetPosition("fetch", Position{X: 10, Y: 20})
	assert.Equal(t, Position{X: 10, Y: 20}, d.NodePositions["fetch"])
}

func TestDraft_SetBlueprint(t *testing.T) {
	d, err := NewDraft("sess-1")
	require.NoError(t, err)
	require.NoError(t, d.Reseal())
	before := d.VersionLock

	d.SetBlueprint(New([]NodeSpec{toolNode("a")}))
	require.NoError(t, d.Reseal())

	assert.NotNil(t, d.LastBlueprint)
	assert.NotEqual(t, before, d.VersionLock)
}
