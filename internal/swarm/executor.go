// File: internal/swarm/executor.go
// Brief: Direct docker CLI execution against the local swarm socket.

// Package swarm invokes the docker CLI directly: the fallback deploy path
// when the control plane is unusable, plus the one-off containers and
// resource preparation the rollout needs before any stack goes out.
package swarm

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// commandRunner abstracts process execution so tests can intercept it.
type commandRunner func(ctx context.Context, stdin string, name string, args ...string) (string, error)

func execRunner(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Executor shells out to the docker binary on the local host.
type Executor struct {
	run commandRunner
	log *zap.SugaredLogger
}

// NewExecutor returns an executor using the real docker CLI.
func NewExecutor(log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{run: execRunner, log: log}
}

// DeployStack feeds rendered compose content to `docker stack deploy`.
// The underlying command is natively create-or-update.
func (e *Executor) DeployStack(ctx context.Context, name, content string) error {
	out, err := e.run(ctx, content, "docker", "stack", "deploy", "--with-registry-auth", "-c", "-", name)
	if err != nil {
		return fmt.Errorf("stack deploy %s: %w (%s)", name, err, firstLine(out))
	}
	e.log.Infow("stack deployed via docker CLI", "stack", name)
	return nil
}

// EnsureNetwork creates an attachable overlay network, treating
// "already exists" as success.
func (e *Executor) EnsureNetwork(ctx context.Context, name string) error {
	out, err := e.run(ctx, "", "docker", "network", "create", "--driver", "overlay", "--attachable", name)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "already exists") {
			e.log.Debugw("network exists", "network", name)
			return nil
		}
		return fmt.Errorf("create network %s: %w", name, err)
	}
	e.log.Infow("network created", "network", name)
	return nil
}

// EnsureVolume creates a named volume. Volume creation is idempotent in
// the engine itself, the call is retained for parity with the network path.
func (e *Executor) EnsureVolume(ctx context.Context, name string) error {
	if _, err := e.run(ctx, "", "docker", "volume", "create", name); err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	return nil
}

// RunOneOff starts a disposable container on the given network and
// returns its combined output. Used by hooks that need a tool image
// (mc, psql) adjacent to the running services.
func (e *Executor) RunOneOff(ctx context.Context, image, network, entrypoint string, args ...string) (string, error) {
	argv := []string{"run", "--rm"}
	if network != "" {
		argv = append(argv, "--network", network)
	}
	if entrypoint != "" {
		argv = append(argv, "--entrypoint", entrypoint)
	}
	argv = append(argv, image)
	argv = append(argv, args...)
	return e.run(ctx, "", "docker", argv...)
}

// WriteVolumeFile stages a file into a named volume through a one-off
// alpine container, then marks it executable.
func (e *Executor) WriteVolumeFile(ctx context.Context, volume, filename, content string) error {
	target := "/target/" + filename
	script := fmt.Sprintf("cat > %s && chmod +x %s", target, target)
	out, err := e.run(ctx, content, "docker", "run", "--rm", "-i",
		"-v", volume+":/target", "alpine", "sh", "-c", script)
	if err != nil {
		return fmt.Errorf("write %s into volume %s: %w (%s)", filename, volume, err, firstLine(out))
	}
	return nil
}

// ExecInService runs a command inside the newest running task container
// of a swarm service on this node.
func (e *Executor) ExecInService(ctx context.Context, service string, command ...string) (string, error) {
	id, err := e.run(ctx, "", "docker", "ps", "--filter",
		"label=com.docker.swarm.service.name="+service, "--filter", "status=running",
		"--latest", "--quiet")
	if err != nil {
		return "", fmt.Errorf("locate task for %s: %w", service, err)
	}
	container := strings.TrimSpace(id)
	if container == "" {
		return "", fmt.Errorf("no running task for service %s on this node", service)
	}
	argv := append([]string{"exec", container}, command...)
	out, err := e.run(ctx, "", "docker", argv...)
	if err != nil {
		return out, fmt.Errorf("exec in %s: %w (%s)", service, err, firstLine(out))
	}
	return out, nil
}

// StackConverged reports whether every service in the stack has all
// desired replicas running, by parsing `docker stack services`.
func (e *Executor) StackConverged(ctx context.Context, name string) (bool, error) {
	out, err := e.run(ctx, "", "docker", "stack", "services", name, "--format", "{{.Replicas}}")
	if err != nil {
		return false, fmt.Errorf("stack services %s: %w", name, err)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return false, fmt.Errorf("no services for stack %s yet", name)
	}
	for _, line := range strings.Split(trimmed, "\n") {
		current, desired, ok := strings.Cut(strings.TrimSpace(line), "/")
		if !ok {
			continue
		}
		// Global services report like "1/1 (max 1 per node)"; trim extras.
		if idx := strings.IndexByte(desired, ' '); idx >= 0 {
			desired = desired[:idx]
		}
		if current != desired || current == "0" {
			return false, nil
		}
	}
	return true, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
