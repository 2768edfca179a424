package mergequeue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryStateMachineLandTransition(t *testing.T) {
	m := NewEntryStateMachine("T1", 3)
	require.NoError(t, m.Apply(EventLand, 3))
	require.Equal(t, StateLanded, m.State)
	require.True(t, m.State.IsTerminal())
}

func TestEntryStateMachineEvictTransition(t *testing.T) {
	m := NewEntryStateMachine("T1", 3)
	require.NoError(t, m.Apply(EventEvict, 3))
	require.Equal(t, StateEvicted, m.State)
}

func TestEntryStateMachineCannotResolveTwice(t *testing.T) {
	m := NewEntryStateMachine("T1", 3)
	require.NoError(t, m.Apply(EventLand, 3))
	require.Error(t, m.Apply(EventEvict, 3))
}

func TestEntryStateMachineReopenRequiresHigherIteration(t *testing.T) {
	m := NewEntryStateMachine("T1", 3)
	require.NoError(t, m.Apply(EventEvict, 3))

	require.Error(t, m.Apply(EventReopen, 3))
	require.Equal(t, StateEvicted, m.State)

	require.Error(t, m.Apply(EventReopen, 2))
	require.Equal(t, StateEvicted, m.State)
}

func TestEntryStateMachineReopenAtHigherIterationSucceeds(t *testing.T) {
	m := NewEntryStateMachine("T1", 3)
	require.NoError(t, m.Apply(EventEvict, 3))

	require.NoError(t, m.Apply(EventReopen, 5))
	require.Equal(t, StatePending, m.State)
	require.Equal(t, 5, m.ReportIteration)
}

func TestEntryStateMachineUnknownEventErrors(t *testing.T) {
	m := NewEntryStateMachine("T1", 1)
	require.Error(t, m.Apply(Event("bogus"), 1))
}
