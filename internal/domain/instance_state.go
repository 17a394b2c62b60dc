package domain

import (
	"fmt"
)

// InstanceState represents the lifecycle state of a provisioned instance
type InstanceState string

const (
	// InstanceRequested indicates the instance row exists but no platform call was made yet
	InstanceRequested InstanceState = "requested"
	// InstanceProvisioning indicates the platform service was created and is starting
	InstanceProvisioning InstanceState = "provisioning"
	// InstanceRunning indicates the platform reports the service as healthy
	InstanceRunning InstanceState = "running"
	// InstanceSuspended indicates the instance was paused, typically by billing
	InstanceSuspended InstanceState = "suspended"
	// InstanceFailed indicates provisioning or a health check failed
	InstanceFailed InstanceState = "failed"
	// InstanceDeprovisioned indicates the platform service was deleted
	InstanceDeprovisioned InstanceState = "deprovisioned"
)

// InstanceTransition represents an action that can change instance state
type InstanceTransition string

const (
	TransitionProvision   InstanceTransition = "provision"
	TransitionReady       InstanceTransition = "ready"
	TransitionSuspend     InstanceTransition = "suspend"
	TransitionResume      InstanceTransition = "resume"
	TransitionFail        InstanceTransition = "fail"
	TransitionDeprovision InstanceTransition = "deprovision"
)

type instanceTransitionKey struct {
	state      InstanceState
	transition InstanceTransition
}

// InstanceStateMachine enforces valid state transitions for instances.
// Invalid transitions return an error (fail-fast approach).
//
//	[requested] ──provision──► [provisioning] ──ready──► [running]
//	     │                          │                    │      ▲
//	     │                         fail              suspend  resume
//	     │                          ▼                    ▼      │
//	     │                      [failed]            [suspended]─┘
//	     └──────────deprovision: any state ──► [deprovisioned]
//
// running can also fail (health sweep); failed can be re-provisioned.
type InstanceStateMachine struct {
	transitions map[instanceTransitionKey]InstanceState
}

// NewInstanceStateMachine creates the state machine with the lifecycle rules
func NewInstanceStateMachine() *InstanceStateMachine {
	sm := &InstanceStateMachine{
		transitions: make(map[instanceTransitionKey]InstanceState),
	}

	sm.add(InstanceRequested, TransitionProvision, InstanceProvisioning)
	sm.add(InstanceProvisioning, TransitionReady, InstanceRunning)
	sm.add(InstanceProvisioning, TransitionFail, InstanceFailed)
	sm.add(InstanceRunning, TransitionSuspend, InstanceSuspended)
	sm.add(InstanceRunning, TransitionFail, InstanceFailed)
	sm.add(InstanceSuspended, TransitionResume, InstanceRunning)
	sm.add(InstanceFailed, TransitionProvision, InstanceProvisioning)

	// Deprovision is allowed from every non-terminal state
	for _, s := range []InstanceState{
		InstanceRequested, InstanceProvisioning, InstanceRunning,
		InstanceSuspended, InstanceFailed,
	} {
		sm.add(s, TransitionDeprovision, InstanceDeprovisioned)
	}

	return sm
}

func (sm *InstanceStateMachine) add(from InstanceState, t InstanceTransition, to InstanceState) {
	sm.transitions[instanceTransitionKey{state: from, transition: t}] = to
}

// Next returns the state reached by applying a transition, or an error when
// the transition is not legal from the current state.
func (sm *InstanceStateMachine) Next(current InstanceState, t InstanceTransition) (InstanceState, error) {
	next, ok := sm.transitions[instanceTransitionKey{state: current, transition: t}]
	if !ok {
		return current, fmt.Errorf("illegal instance transition: %s from state %s", t, current)
	}
	return next, nil
}

// CanTransition reports whether a transition is legal from the current state
func (sm *InstanceStateMachine) CanTransition(current InstanceState, t InstanceTransition) bool {
	_, ok := sm.transitions[instanceTransitionKey{state: current, transition: t}]
	return ok
}
