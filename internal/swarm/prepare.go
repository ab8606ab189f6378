// File: internal/swarm/prepare.go
// Brief: Pre-rollout swarm resource preparation.

package swarm

import (
	"context"
	"fmt"
	"strings"
)

// PublicNetwork is the shared attachable overlay every stack joins.
const PublicNetwork = "network_swarm_public"

// stackVolumes are the named volumes the catalog's stacks declare as
// external. Created up front so a partial run never leaves a stack
// waiting on a missing volume.
var stackVolumes = []string{
	"traefik_certificates",
	"portainer_data",
	"redis_data",
	"redis_cw_data",
	"postgres_data",
	"postgres_init",
	"rabbitmq_data",
	"minio_data",
	"n8n_data",
	"chatwoot_storage",
	"chatwoot_public",
	"chatwoot_mailer",
	"chatwoot_mailers",
}

// postgresInitScript is staged into the postgres_init volume and mounted
// at /docker-entrypoint-initdb.d, so the databases exist before n8n and
// Chatwoot first connect. It only runs on an empty data directory.
const postgresInitScript = `#!/bin/bash
set -e

psql -v ON_ERROR_STOP=1 --username "$POSTGRES_USER" --dbname "$POSTGRES_DB" <<-EOSQL
    CREATE DATABASE n8n;
    CREATE DATABASE cwdb;
    GRANT ALL PRIVILEGES ON DATABASE n8n TO postgres;
    GRANT ALL PRIVILEGES ON DATABASE cwdb TO postgres;
EOSQL
`

// SwarmActive reports whether the local engine is a swarm manager or
// worker, from `docker info`.
func (e *Executor) SwarmActive(ctx context.Context) (bool, error) {
	out, err := e.run(ctx, "", "docker", "info", "--format", "{{.Swarm.LocalNodeState}}")
	if err != nil {
		return false, fmt.Errorf("docker info: %w (%s)", err, firstLine(out))
	}
	return strings.TrimSpace(out) == "active", nil
}

// Prepare creates every shared resource the catalog expects: the public
// overlay network, the named volumes, and the Postgres init script. All
// steps are idempotent, so re-running a failed install is safe.
func (e *Executor) Prepare(ctx context.Context) error {
	active, err := e.SwarmActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("docker engine is not in swarm mode, run `docker swarm init` first")
	}
	if err := e.EnsureNetwork(ctx, PublicNetwork); err != nil {
		return err
	}
	for _, vol := range stackVolumes {
		if err := e.EnsureVolume(ctx, vol); err != nil {
			return err
		}
	}
	if err := e.WriteVolumeFile(ctx, "postgres_init", "init-databases.sh", postgresInitScript); err != nil {
		return err
	}
	e.log.Infow("swarm resources prepared", "network", PublicNetwork, "volumes", len(stackVolumes))
	return nil
}
