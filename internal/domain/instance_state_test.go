package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLifecycleHappyPath(t *testing.T) {
	sm := NewInstanceStateMachine()

	state := InstanceRequested

	state, err := sm.Next(state, TransitionProvision)
	require.NoError(t, err)
	assert.Equal(t, InstanceProvisioning, state)

	state, err = sm.Next(state, TransitionReady)
	require.NoError(t, err)
	assert.Equal(t, InstanceRunning, state)

	state, err = sm.Next(state, TransitionSuspend)
	require.NoError(t, err)
	assert.Equal(t, InstanceSuspended, state)

	state, err = sm.Next(state, TransitionResume)
	require.NoError(t, err)
	assert.Equal(t, InstanceRunning, state)
}

func TestInstanceIllegalTransitions(t *testing.T) {
	sm := NewInstanceStateMachine()

	// Cannot become ready without provisioning first
	_, err := sm.Next(InstanceRequested, TransitionReady)
	assert.Error(t, err)

	// Cannot resume something that is not suspended
	_, err = sm.Next(InstanceRunning, TransitionResume)
	assert.Error(t, err)

	// Deprovisioned is terminal
	_, err = sm.Next(InstanceDeprovisioned, TransitionProvision)
	assert.Error(t, err)
}

func TestInstanceFailureAndRetry(t *testing.T) {
	sm := NewInstanceStateMachine()

	state, err := sm.Next(InstanceProvisioning, TransitionFail)
	require.NoError(t, err)
	assert.Equal(t, InstanceFailed, state)

	// A failed instance can be provisioned again
	state, err = sm.Next(state, TransitionProvision)
	require.NoError(t, err)
	assert.Equal(t, InstanceProvisioning, state)
}

func TestDeprovisionAllowedFromAllActiveStates(t *testing.T) {
	sm := NewInstanceStateMachine()

	for _, s := range []InstanceState{
		InstanceRequested, InstanceProvisioning, InstanceRunning,
		InstanceSuspended, InstanceFailed,
	} {
		assert.True(t, sm.CanTransition(s, TransitionDeprovision), string(s))
	}
}
