// File: internal/hooks/hooks.go
// Brief: Post-deploy hook dispatch.

// Package hooks implements the imperative follow-up steps that run after
// a unit converges: object-store provisioning for MinIO and the one-shot
// database preparation for Chatwoot. Hooks run synchronously before the
// next unit renders, because later templates consume the values they
// produce.
package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/stackup/internal/catalog"
	"github.com/example/stackup/internal/swarm"
	"github.com/example/stackup/internal/vars"
)

// Runner executes post-deploy hooks against the freshly deployed stack.
type Runner struct {
	exec *swarm.Executor
	vs   *vars.Set
	log  *zap.SugaredLogger

	// s3Endpoint is the host-published MinIO API address used for
	// bucket and policy provisioning.
	s3Endpoint string
	// network is the overlay network one-off tool containers attach to.
	network string
}

// NewRunner wires a hook runner for the run's variable set.
func NewRunner(exec *swarm.Executor, vs *vars.Set, s3Endpoint, network string, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{exec: exec, vs: vs, log: log, s3Endpoint: s3Endpoint, network: network}
}

// Run dispatches the named hook.
func (r *Runner) Run(ctx context.Context, id catalog.HookID) error {
	switch id {
	case catalog.HookNone:
		return nil
	case catalog.HookMinIOProvision:
		return r.provisionMinIO(ctx)
	case catalog.HookChatwootPrepare:
		return r.prepareChatwoot(ctx)
	default:
		return fmt.Errorf("unknown hook %q", id)
	}
}
