// File: internal/hooks/chatwoot.go
// Brief: One-shot Chatwoot database preparation.

package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/example/stackup/internal/retry"
)

// chatwootWebService is the swarm service name of the Rails container
// (stack name joined with the compose service name).
const chatwootWebService = "chatwoot_chatwoot-web"

// prepareChatwoot runs the application's database preparation task
// inside the running web container. The task is idempotent on the
// application side; re-running it against a prepared database is a
// no-op migration check.
func (r *Runner) prepareChatwoot(ctx context.Context) error {
	r.log.Infow("running database preparation", "service", chatwootWebService)
	// The task container can lag behind service convergence; retry until
	// a running task exists on this node.
	err := retry.Poll(ctx, 5*time.Second, 2*time.Minute, func(ctx context.Context) (bool, error) {
		_, err := r.exec.ExecInService(ctx, chatwootWebService,
			"bundle", "exec", "rails", "db:chatwoot_prepare")
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("database preparation: %w", err)
	}
	r.log.Infow("database prepared")
	return nil
}
