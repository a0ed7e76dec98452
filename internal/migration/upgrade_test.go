package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingKicker struct{ kicks int }

func (c *countingKicker) Kick() { c.kicks++ }

func notesFor(version string) []string {
	if version == "2.0.0" {
		return []string{"Collection names are now encrypted."}
	}
	return nil
}

func TestHandleUpgrade(t *testing.T) {
	st := testState(t)
	kicker := &countingKicker{}
	notifier := &fakeNotifier{}
	u := NewUpgradeTrigger(st, kicker, notifier, notesFor, false, discardLogger())

	require.NoError(t, u.HandleUpgrade("2.0.0"))
	assert.Equal(t, 1, kicker.kicks)
	assert.Equal(t, []string{"2.0.0"}, notifier.releaseNotes)
	assert.Equal(t, "2.0.0", st.AppVersion())
	assert.True(t, st.UpdateHandled())

	// Same version: nothing happens.
	require.NoError(t, u.HandleUpgrade("2.0.0"))
	assert.Equal(t, 1, kicker.kicks)
	assert.Len(t, notifier.releaseNotes, 1)

	// A version without notes still kicks.
	require.NoError(t, u.HandleUpgrade("2.0.1"))
	assert.Equal(t, 2, kicker.kicks)
	assert.Len(t, notifier.releaseNotes, 1)
	assert.Equal(t, "2.0.1", st.AppVersion())
}

func TestHandleUpgrade_OperatorHostSkipsReleaseNotes(t *testing.T) {
	st := testState(t)
	kicker := &countingKicker{}
	notifier := &fakeNotifier{}
	u := NewUpgradeTrigger(st, kicker, notifier, notesFor, true, discardLogger())

	require.NoError(t, u.HandleUpgrade("2.0.0"))

	assert.Equal(t, 1, kicker.kicks)
	assert.Empty(t, notifier.releaseNotes)
}

func TestHandleUpgrade_RetriesUnhandledVersion(t *testing.T) {
	st := testState(t)
	require.NoError(t, st.SetAppVersion("2.0.0"))
	require.NoError(t, st.SetUpdateHandled(false))

	kicker := &countingKicker{}
	u := NewUpgradeTrigger(st, kicker, &fakeNotifier{}, nil, false, discardLogger())

	require.NoError(t, u.HandleUpgrade("2.0.0"))

	assert.Equal(t, 1, kicker.kicks)
	assert.True(t, st.UpdateHandled())
}
