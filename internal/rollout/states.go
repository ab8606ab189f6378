// File: internal/rollout/states.go
// Brief: Unit and run state enumerations.

// Package rollout walks the stack catalog in order, deploying each unit
// through the control plane with the local executor as fallback, waiting
// for health, running post-deploy hooks, and persisting credentials at
// the end. It is the single thread of control for a provisioning run.
package rollout

// UnitState is the lifecycle position of one unit within a run.
type UnitState string

const (
	StatePending        UnitState = "PENDING"
	StateRendering      UnitState = "RENDERING"
	StateDeploying      UnitState = "DEPLOYING"
	StateAwaitingHealth UnitState = "AWAITING_HEALTH"
	// StateHealthy means every service reported all tasks running within
	// the polling budget.
	StateHealthy UnitState = "HEALTHY"
	// StateDegraded means the unit deployed but did not confirm health in
	// time. Non-fatal: the engine may still converge after we move on.
	StateDegraded UnitState = "DEGRADED"
	// StateFailed means both deploy paths were exhausted.
	StateFailed UnitState = "FAILED"
)

// Usable reports whether a unit in this state satisfies a dependency.
func (s UnitState) Usable() bool {
	return s == StateHealthy || s == StateDegraded
}

// Phase is the global run state.
type Phase string

const (
	PhaseBootstrapping       Phase = "BOOTSTRAPPING"
	PhaseAPIInit             Phase = "API_INIT"
	PhaseRollout             Phase = "ROLLOUT"
	PhasePostHooks           Phase = "POST_HOOKS"
	PhasePersistCredentials  Phase = "PERSIST_CREDENTIALS"
	PhaseDone                Phase = "DONE"
	PhaseAborted             Phase = "ABORTED"
)

// DeployPath records which transport deployed a unit.
type DeployPath string

const (
	PathPrimary  DeployPath = "control-plane"
	PathFallback DeployPath = "docker-cli"
	PathNone     DeployPath = ""
)
