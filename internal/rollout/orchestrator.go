// File: internal/rollout/orchestrator.go
// Brief: Sequential deployment orchestration state machine.

package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/stackup/internal/catalog"
	"github.com/example/stackup/internal/retry"
	"github.com/example/stackup/internal/vars"
)

// HookRunner executes a post-deploy hook.
type HookRunner interface {
	Run(ctx context.Context, id catalog.HookID) error
}

// EventSink observes unit transitions, typically backed by the state
// store. Nil sinks are allowed.
type EventSink interface {
	UnitEvent(ctx context.Context, unit string, state UnitState, detail string)
	PhaseEvent(ctx context.Context, phase Phase)
}

// Options wire an orchestrator run.
type Options struct {
	Units        []Unit
	Vars         *vars.Set
	ControlPlane ControlPlane
	Primary      Deployer
	Fallback     Deployer
	Hooks        HookRunner
	Events       EventSink
	Log          *zap.SugaredLogger

	// ReadyBudget bounds the control-plane readiness wait (default 120s).
	ReadyBudget time.Duration
	// HealthBudget bounds per-unit health polling (default 60s).
	HealthBudget time.Duration

	// PersistCredentials writes the credential records at end of run.
	PersistCredentials func(records []vars.CredentialRecord) error
}

// UnitResult is the outcome of one unit.
type UnitResult struct {
	Unit    string
	State   UnitState
	Path    DeployPath
	Err     error
	HookErr error
}

// Summary is the final report of a run.
type Summary struct {
	Phase          Phase
	ControlPlaneUp bool
	Results        []UnitResult
}

// Orchestrator drives one provisioning run to completion or abort.
type Orchestrator struct {
	opts      Options
	log       *zap.SugaredLogger
	states    map[string]UnitState
	results   []UnitResult
	primaryUp bool
	phase     Phase
}

// New validates the options and returns an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if len(opts.Units) == 0 {
		return nil, errors.New("no units to deploy")
	}
	if opts.Vars == nil {
		return nil, errors.New("variable set is required")
	}
	if opts.Fallback == nil {
		return nil, errors.New("fallback deployer is required")
	}
	if opts.ReadyBudget <= 0 {
		opts.ReadyBudget = 120 * time.Second
	}
	if opts.HealthBudget <= 0 {
		opts.HealthBudget = 60 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		opts:   opts,
		log:    log,
		states: make(map[string]UnitState, len(opts.Units)),
	}, nil
}

// Run executes the full pipeline. The returned summary is valid even
// when err is non-nil; err is a HardDependencyAbortError or a context
// error.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	o.setPhase(ctx, PhaseBootstrapping)
	apiInitDone := false

	for i, u := range o.opts.Units {
		if err := ctx.Err(); err != nil {
			return o.summary(), err
		}
		if !u.Bootstrap && !apiInitDone {
			o.setPhase(ctx, PhaseAPIInit)
			o.initControlPlane(ctx)
			apiInitDone = true
			o.setPhase(ctx, PhaseRollout)
		}
		if abortErr := o.checkHardDeps(u); abortErr != nil {
			return o.abort(ctx, abortErr)
		}
		res := o.processUnit(ctx, u)
		o.results = append(o.results, res)
		o.states[u.Name] = res.State
		if res.State == StateFailed {
			if abortErr := o.blockingFailure(u.Name, o.opts.Units[i+1:]); abortErr != nil {
				return o.abort(ctx, abortErr)
			}
		}
	}

	// Hooks ran inline after their owning unit; the phase transition is
	// recorded so the run history shows the pipeline completed it.
	o.setPhase(ctx, PhasePostHooks)

	o.setPhase(ctx, PhasePersistCredentials)
	if o.opts.PersistCredentials != nil {
		if err := o.opts.PersistCredentials(o.opts.Vars.Credentials()); err != nil {
			o.log.Errorw("persist credentials", "error", err)
		}
	}

	o.setPhase(ctx, PhaseDone)
	return o.summary(), nil
}

func (o *Orchestrator) abort(ctx context.Context, abortErr *HardDependencyAbortError) (*Summary, error) {
	o.log.Errorw("aborting run", "blockingUnit", abortErr.Unit, "blocked", abortErr.Blocked)
	o.setPhase(ctx, PhaseAborted)
	return o.summary(), abortErr
}

func (o *Orchestrator) summary() *Summary {
	results := make([]UnitResult, len(o.results))
	copy(results, o.results)
	return &Summary{Phase: o.phase, ControlPlaneUp: o.primaryUp, Results: results}
}

func (o *Orchestrator) setPhase(ctx context.Context, p Phase) {
	o.phase = p
	o.log.Infow("phase", "phase", string(p))
	if o.opts.Events != nil {
		o.opts.Events.PhaseEvent(ctx, p)
	}
}

func (o *Orchestrator) setState(ctx context.Context, unit string, s UnitState, detail string) {
	o.states[unit] = s
	o.log.Infow("unit state", "unit", unit, "state", string(s), "detail", detail)
	if o.opts.Events != nil {
		o.opts.Events.UnitEvent(ctx, unit, s, detail)
	}
}

// checkHardDeps rejects a unit whose declared hard dependency already
// failed. The abort names the blocking dependency, not the victim.
func (o *Orchestrator) checkHardDeps(u Unit) *HardDependencyAbortError {
	for _, dep := range u.HardDeps {
		if st, ok := o.states[dep]; ok && !st.Usable() {
			return &HardDependencyAbortError{Unit: dep, Blocked: u.Name}
		}
	}
	return nil
}

// blockingFailure checks whether any not-yet-deployed unit hard-depends
// on the unit that just failed; if so the run aborts immediately instead
// of deploying units that cannot function.
func (o *Orchestrator) blockingFailure(failed string, remaining []Unit) *HardDependencyAbortError {
	for _, u := range remaining {
		for _, dep := range u.HardDeps {
			if dep == failed {
				return &HardDependencyAbortError{Unit: failed, Blocked: u.Name}
			}
		}
	}
	return nil
}

// initControlPlane performs the one-time API_INIT sequence. Any failure
// leaves the run in fallback mode; none of them abort the run.
func (o *Orchestrator) initControlPlane(ctx context.Context) {
	if o.opts.ControlPlane == nil || o.opts.Primary == nil {
		o.log.Infow("no control plane configured, using fallback for all units")
		return
	}
	// The unit hosting the control plane must at least have deployed;
	// waiting out the readiness budget against a failed unit is pointless.
	for _, u := range o.opts.Units {
		if u.HostsControlPlane {
			if st, ok := o.states[u.Name]; ok && !st.Usable() {
				o.log.Warnw("control plane unit unusable, skipping API init", "unit", u.Name)
				return
			}
		}
	}
	if err := o.opts.ControlPlane.WaitReady(ctx, o.opts.ReadyBudget); err != nil {
		o.log.Warnw("control plane unavailable, falling back for all units", "error", err)
		return
	}
	if err := o.opts.ControlPlane.InitAdmin(ctx); err != nil {
		o.log.Warnw("admin bootstrap failed, falling back", "error", err)
		return
	}
	if err := o.opts.ControlPlane.Authenticate(ctx); err != nil {
		o.log.Warnw("authentication failed, falling back", "error", err)
		return
	}
	if err := o.opts.ControlPlane.ResolveEndpoint(ctx); err != nil {
		o.log.Warnw("endpoint resolution failed, falling back", "error", err)
		return
	}
	o.primaryUp = true
	o.log.Infow("control plane session established")
}

// processUnit runs one unit through the per-unit state machine. Failures
// are captured in the result; only hard-dependency logic above can turn
// them into a run abort.
func (o *Orchestrator) processUnit(ctx context.Context, u Unit) UnitResult {
	res := UnitResult{Unit: u.Name, State: StatePending}

	o.setState(ctx, u.Name, StateRendering, "")
	content, err := u.Render(o.opts.Vars.Snapshot())
	if err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("render: %w", err)
		o.setState(ctx, u.Name, StateFailed, res.Err.Error())
		return res
	}

	o.setState(ctx, u.Name, StateDeploying, "")
	path, err := o.deploy(ctx, u, content)
	res.Path = path
	if err != nil {
		res.State = StateFailed
		res.Err = err
		o.setState(ctx, u.Name, StateFailed, err.Error())
		return res
	}

	o.setState(ctx, u.Name, StateAwaitingHealth, string(path))
	res.State = o.awaitHealth(ctx, u, path)
	o.setState(ctx, u.Name, res.State, string(path))

	if res.State.Usable() && u.Hook != catalog.HookNone && o.opts.Hooks != nil {
		if hookErr := o.opts.Hooks.Run(ctx, u.Hook); hookErr != nil {
			// Reported, not fatal: availability wins over strictness here,
			// later units that needed the hook's output will fail loudly.
			res.HookErr = hookErr
			o.log.Errorw("post-deploy hook failed", "unit", u.Name, "hook", string(u.Hook), "error", hookErr)
		}
	}
	return res
}

// deploy tries the control-plane transport first when a session exists,
// then the local executor. Fallback is per-unit: a primary failure here
// does not disable the primary for later units.
func (o *Orchestrator) deploy(ctx context.Context, u Unit, content string) (DeployPath, error) {
	if !u.Bootstrap && o.primaryUp && o.opts.Primary != nil {
		err := o.opts.Primary.Deploy(ctx, u.Name, content)
		if err == nil {
			return PathPrimary, nil
		}
		o.log.Warnw("control-plane deploy failed, using fallback", "unit", u.Name, "error", err)
	}
	if err := o.opts.Fallback.Deploy(ctx, u.Name, content); err != nil {
		return PathNone, fmt.Errorf("deploy %s: both paths exhausted: %w", u.Name, err)
	}
	return PathFallback, nil
}

// awaitHealth polls via the transport that deployed the unit. A timeout
// degrades the unit rather than failing it.
func (o *Orchestrator) awaitHealth(ctx context.Context, u Unit, path DeployPath) UnitState {
	var deployer Deployer
	switch path {
	case PathPrimary:
		deployer = o.opts.Primary
	default:
		deployer = o.opts.Fallback
	}
	err := deployer.WaitHealthy(ctx, u.Name, o.opts.HealthBudget)
	if err == nil {
		return StateHealthy
	}
	if errors.Is(err, retry.ErrPollTimeout) {
		o.log.Warnw("health check timed out, marking degraded", "unit", u.Name)
		return StateDegraded
	}
	o.log.Warnw("health check inconclusive, marking degraded", "unit", u.Name, "error", err)
	return StateDegraded
}
