package swarm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// fakeRunner records invocations and replays scripted results.
type fakeRunner struct {
	calls   []call
	results map[string]result
}

type call struct {
	stdin string
	argv  string
}

type result struct {
	out string
	err error
}

func (f *fakeRunner) run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	argv := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call{stdin: stdin, argv: argv})
	for prefix, res := range f.results {
		if strings.HasPrefix(argv, prefix) {
			return res.out, res.err
		}
	}
	return "", nil
}

func newFakeExecutor(results map[string]result) (*Executor, *fakeRunner) {
	f := &fakeRunner{results: results}
	return &Executor{run: f.run, log: zap.NewNop().Sugar()}, f
}

func TestDeployStackPipesContent(t *testing.T) {
	exec, f := newFakeExecutor(nil)
	content := "services:\n  redis:\n    image: redis:7.2\n"
	if err := exec.DeployStack(context.Background(), "redis", content); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("calls = %d", len(f.calls))
	}
	if f.calls[0].argv != "docker stack deploy --with-registry-auth -c - redis" {
		t.Errorf("argv = %q", f.calls[0].argv)
	}
	if f.calls[0].stdin != content {
		t.Error("compose content not piped to stdin")
	}
}

func TestDeployStackReportsFirstErrorLine(t *testing.T) {
	exec, _ := newFakeExecutor(map[string]result{
		"docker stack deploy": {out: "invalid compose file\nmore detail", err: errors.New("exit status 1")},
	})
	err := exec.DeployStack(context.Background(), "redis", "x")
	if err == nil || !strings.Contains(err.Error(), "invalid compose file") {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureNetworkTreatsExistingAsSuccess(t *testing.T) {
	exec, _ := newFakeExecutor(map[string]result{
		"docker network create": {out: "Error: network with name network_swarm_public already exists", err: errors.New("exit status 1")},
	})
	if err := exec.EnsureNetwork(context.Background(), "network_swarm_public"); err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}
}

func TestEnsureNetworkPropagatesOtherErrors(t *testing.T) {
	exec, _ := newFakeExecutor(map[string]result{
		"docker network create": {out: "permission denied", err: errors.New("exit status 1")},
	})
	if err := exec.EnsureNetwork(context.Background(), "net"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOneOffArgs(t *testing.T) {
	exec, f := newFakeExecutor(nil)
	if _, err := exec.RunOneOff(context.Background(), "minio/mc:latest", "network_swarm_public", "/bin/sh", "-c", "mc ls"); err != nil {
		t.Fatal(err)
	}
	want := "docker run --rm --network network_swarm_public --entrypoint /bin/sh minio/mc:latest -c mc ls"
	if f.calls[0].argv != want {
		t.Errorf("argv = %q, want %q", f.calls[0].argv, want)
	}
}

func TestWriteVolumeFile(t *testing.T) {
	exec, f := newFakeExecutor(nil)
	if err := exec.WriteVolumeFile(context.Background(), "postgres_init", "init.sh", "#!/bin/bash\n"); err != nil {
		t.Fatal(err)
	}
	argv := f.calls[0].argv
	if !strings.Contains(argv, "-v postgres_init:/target") {
		t.Errorf("volume not mounted: %q", argv)
	}
	if !strings.Contains(argv, "cat > /target/init.sh && chmod +x /target/init.sh") {
		t.Errorf("script wrong: %q", argv)
	}
	if f.calls[0].stdin != "#!/bin/bash\n" {
		t.Error("content not piped to stdin")
	}
}

func TestExecInService(t *testing.T) {
	exec, f := newFakeExecutor(map[string]result{
		"docker ps": {out: "abc123\n"},
	})
	if _, err := exec.ExecInService(context.Background(), "chatwoot_chatwoot-web", "bundle", "exec", "rails", "db:chatwoot_prepare"); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 2 {
		t.Fatalf("calls = %d", len(f.calls))
	}
	if !strings.Contains(f.calls[0].argv, "label=com.docker.swarm.service.name=chatwoot_chatwoot-web") {
		t.Errorf("lookup argv = %q", f.calls[0].argv)
	}
	if f.calls[1].argv != "docker exec abc123 bundle exec rails db:chatwoot_prepare" {
		t.Errorf("exec argv = %q", f.calls[1].argv)
	}
}

func TestExecInServiceNoTask(t *testing.T) {
	exec, _ := newFakeExecutor(map[string]result{
		"docker ps": {out: "\n"},
	})
	if _, err := exec.ExecInService(context.Background(), "svc", "true"); err == nil {
		t.Fatal("expected error when no task is running")
	}
}

func TestStackConverged(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want bool
	}{
		{"all running", "1/1\n2/2\n", true},
		{"partial", "1/1\n0/1\n", false},
		{"scaled to zero", "0/0\n", false},
		{"global service suffix", "1/1 (max 1 per node)\n", true},
		{"global service pending", "0/1 (max 1 per node)\n", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec, _ := newFakeExecutor(map[string]result{
				"docker stack services": {out: tc.out},
			})
			got, err := exec.StackConverged(context.Background(), "redis")
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("converged = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStackConvergedNoServicesYet(t *testing.T) {
	exec, _ := newFakeExecutor(map[string]result{
		"docker stack services": {out: "\n"},
	})
	if _, err := exec.StackConverged(context.Background(), "redis"); err == nil {
		t.Fatal("expected error for empty service list")
	}
}

func TestPrepareCreatesEverything(t *testing.T) {
	exec, f := newFakeExecutor(map[string]result{
		"docker info": {out: "active\n"},
	})
	if err := exec.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	var networks, volumes, writes int
	for _, c := range f.calls {
		switch {
		case strings.HasPrefix(c.argv, "docker network create"):
			networks++
			if !strings.Contains(c.argv, "--driver overlay --attachable network_swarm_public") {
				t.Errorf("network argv = %q", c.argv)
			}
		case strings.HasPrefix(c.argv, "docker volume create"):
			volumes++
		case strings.Contains(c.argv, "postgres_init:/target"):
			writes++
			if !strings.Contains(c.stdin, "CREATE DATABASE n8n;") || !strings.Contains(c.stdin, "CREATE DATABASE cwdb;") {
				t.Error("init script missing database creation")
			}
		}
	}
	if networks != 1 {
		t.Errorf("networks created = %d", networks)
	}
	if volumes != len(stackVolumes) {
		t.Errorf("volumes created = %d, want %d", volumes, len(stackVolumes))
	}
	if writes != 1 {
		t.Errorf("init script writes = %d", writes)
	}
}

func TestPrepareRequiresSwarmMode(t *testing.T) {
	exec, _ := newFakeExecutor(map[string]result{
		"docker info": {out: "inactive\n"},
	})
	if err := exec.Prepare(context.Background()); err == nil {
		t.Fatal("expected error outside swarm mode")
	}
}
