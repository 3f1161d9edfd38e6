package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLinkForTest(ref AttributeRef, configID string) *AttributeLink {
	return newAttributeLink(ref, configID, LinkMeta{}, Policy{}, noopLogger{})
}

func TestAttributeLinkLifecycle(t *testing.T) {
	ctx := testContext(t)
	l := newLinkForTest(refLamp, "cfg")
	assert.Equal(t, StateUnlinked, l.State())

	require.NoError(t, l.transition(ctx, eventLink))
	assert.Equal(t, StateLinking, l.State())

	require.NoError(t, l.transition(ctx, eventLinked))
	assert.Equal(t, StateLinked, l.State())

	require.NoError(t, l.transition(ctx, eventUnlink))
	assert.Equal(t, StateUnlinking, l.State())

	require.NoError(t, l.transition(ctx, eventUnlinked))
	assert.Equal(t, StateUnlinked, l.State())
}

func TestAttributeLinkAbort(t *testing.T) {
	ctx := testContext(t)
	l := newLinkForTest(refLamp, "cfg")

	require.NoError(t, l.transition(ctx, eventLink))
	require.NoError(t, l.transition(ctx, eventAbort))
	assert.Equal(t, StateUnlinked, l.State())
}

func TestAttributeLinkInvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		bad    string
	}{
		{name: "unlink while unlinked", bad: eventUnlink},
		{name: "linked without link", bad: eventLinked},
		{name: "abort when linked", events: []string{eventLink, eventLinked}, bad: eventAbort},
		{name: "link twice", events: []string{eventLink}, bad: eventLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			l := newLinkForTest(refLamp, "cfg")
			for _, ev := range tt.events {
				require.NoError(t, l.transition(ctx, ev))
			}
			before := l.State()
			assert.Error(t, l.transition(ctx, tt.bad))
			assert.Equal(t, before, l.State())
		})
	}
}

func TestAttributeLinkDeliverAfterDetach(t *testing.T) {
	l := newLinkForTest(refLamp, "cfg")

	calls := 0
	assert.True(t, l.deliver(func() { calls++ }))
	l.detach()
	assert.False(t, l.deliver(func() { calls++ }))
	assert.Equal(t, 1, calls)
}

func TestAttributeLinkStopPollingIsIdempotent(t *testing.T) {
	l := newLinkForTest(refLamp, "cfg")
	assert.NotPanics(t, l.stopPolling)

	s := newTestScheduler(t)
	task := s.Every(0, MinPollingInterval, func() {})
	l.setPollingTask(task)

	l.stopPolling()
	l.stopPolling()
	assert.True(t, task.Cancelled())
}

func TestRegistryOneLinkPerRef(t *testing.T) {
	r := NewRegistry()
	first := newLinkForTest(refLamp, "a")
	second := newLinkForTest(refLamp, "b")

	assert.Nil(t, r.Insert(first))
	assert.Same(t, first, r.Insert(second))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(refLamp)
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.False(t, r.IsCurrent(first))
	assert.True(t, r.IsCurrent(second))
}

func TestRegistryRemoveIfIgnoresStaleLink(t *testing.T) {
	r := NewRegistry()
	stale := newLinkForTest(refLamp, "a")
	current := newLinkForTest(refLamp, "b")
	r.Insert(stale)
	r.Insert(current)

	assert.False(t, r.RemoveIf(stale))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.RemoveIf(current))
	assert.Zero(t, r.Len())

	_, ok := r.Remove(refLamp)
	assert.False(t, ok)
}

func TestRegistryByConfigurationAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Insert(newLinkForTest(AttributeRef{AssetID: "b", Name: "x"}, "cfg1"))
	r.Insert(newLinkForTest(AttributeRef{AssetID: "a", Name: "y"}, "cfg1"))
	r.Insert(newLinkForTest(AttributeRef{AssetID: "a", Name: "x"}, "cfg2"))

	assert.Len(t, r.ByConfiguration("cfg1"), 2)
	assert.Len(t, r.ByConfiguration("cfg2"), 1)
	assert.Empty(t, r.ByConfiguration("missing"))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a:x", snap[0].Ref.String())
	assert.Equal(t, "a:y", snap[1].Ref.String())
	assert.Equal(t, "b:x", snap[2].Ref.String())
	assert.True(t, snap[0].ReadOnly, "link without write consumer reports read-only")
}
