// File: internal/rollout/deployer.go
// Brief: Two-path deploy strategy and transport adapters.

package rollout

import (
	"context"
	"time"

	"github.com/example/stackup/internal/portainer"
	"github.com/example/stackup/internal/retry"
	"github.com/example/stackup/internal/swarm"
)

// Deployer is one transport capable of create-or-update stack deploys
// and health observation. Both implementations are idempotent: deploying
// identical content twice is a no-op update.
type Deployer interface {
	// Deploy creates or updates the named stack from rendered content.
	Deploy(ctx context.Context, name, content string) error
	// WaitHealthy blocks until the stack's services report running, the
	// budget elapses (retry.ErrPollTimeout), or the context is cancelled.
	WaitHealthy(ctx context.Context, name string, budget time.Duration) error
}

// ControlPlane is the one-time initialization surface of the management
// API, exercised during API_INIT.
type ControlPlane interface {
	WaitReady(ctx context.Context, budget time.Duration) error
	InitAdmin(ctx context.Context) error
	Authenticate(ctx context.Context) error
	ResolveEndpoint(ctx context.Context) error
}

// PortainerDeployer adapts the control-plane client to the Deployer
// strategy slot.
type PortainerDeployer struct {
	Client *portainer.Client
}

func (d *PortainerDeployer) Deploy(ctx context.Context, name, content string) error {
	return d.Client.DeployStack(ctx, name, content)
}

func (d *PortainerDeployer) WaitHealthy(ctx context.Context, name string, budget time.Duration) error {
	return d.Client.WaitStackRunning(ctx, name, budget)
}

// SwarmDeployer adapts the local docker CLI executor.
type SwarmDeployer struct {
	Exec *swarm.Executor
}

func (d *SwarmDeployer) Deploy(ctx context.Context, name, content string) error {
	return d.Exec.DeployStack(ctx, name, content)
}

func (d *SwarmDeployer) WaitHealthy(ctx context.Context, name string, budget time.Duration) error {
	return retry.Poll(ctx, 2*time.Second, budget, func(ctx context.Context) (bool, error) {
		return d.Exec.StackConverged(ctx, name)
	})
}
