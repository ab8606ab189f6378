// File: internal/portainer/client.go
// Brief: Authenticated Portainer API client with retry and re-auth.

// Package portainer drives the Portainer REST API: readiness wait, admin
// bootstrap, JWT session handling, endpoint resolution, and idempotent
// stack create-or-update. Authorization failures trigger one reactive
// re-authentication before a call is reported as failed; token lifetime
// is never assumed.
package portainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/stackup/internal/retry"
)

var (
	// ErrUnavailable means the control plane never reached readiness.
	ErrUnavailable = errors.New("control plane unavailable")
	// ErrAuthFailed means credentials were rejected; terminal for the
	// control-plane path, the caller falls back to the local executor.
	ErrAuthFailed = errors.New("control plane authentication failed")
)

// endpointTypeSwarm is Portainer's agent-less Docker Swarm environment type.
const endpointTypeSwarm = 4

// apiError carries the HTTP status so retry classification can separate
// 5xx (retryable) from other 4xx (terminal).
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	msg := strings.TrimSpace(e.body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("portainer: status %d", e.status)
	}
	return fmt.Sprintf("portainer: status %d: %s", e.status, msg)
}

// IsConflict reports whether err is the API's "already exists" answer.
func IsConflict(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == http.StatusConflict
}

func isUnauthorized(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == http.StatusUnauthorized
}

// Options configure a Client.
type Options struct {
	BaseURL       string
	AdminUser     string
	AdminPassword string
	HTTPClient    *http.Client
	Policy        retry.Policy
	Logger        *zap.SugaredLogger
}

// Client is a session-holding Portainer API client. It is not safe for
// concurrent use; the rollout is single-threaded by design.
type Client struct {
	apiURL string
	admin  string
	pass   string
	httpc  *http.Client
	policy retry.Policy
	log    *zap.SugaredLogger

	jwt        string
	endpointID int
	swarmID    string
}

// New returns a client for the given Portainer base URL.
func New(opts Options) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		apiURL: strings.TrimRight(opts.BaseURL, "/") + "/api",
		admin:  opts.AdminUser,
		pass:   opts.AdminPassword,
		httpc:  httpc,
		policy: policy,
		log:    log,
	}
}

// EndpointID returns the resolved environment identifier.
func (c *Client) EndpointID() int { return c.endpointID }

// SwarmID returns the resolved swarm cluster identifier.
func (c *Client) SwarmID() string { return c.swarmID }

// WaitReady polls the status endpoint until the control plane answers,
// or the budget elapses. Returns ErrUnavailable on timeout.
func (c *Client) WaitReady(ctx context.Context, budget time.Duration) error {
	c.log.Infow("waiting for control plane", "budget", budget.String())
	err := retry.Poll(ctx, 2*time.Second, budget, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/status", nil)
		if err != nil {
			return false, err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK, nil
	})
	if errors.Is(err, retry.ErrPollTimeout) {
		return fmt.Errorf("%w: not ready after %s", ErrUnavailable, budget)
	}
	return err
}

// InitAdmin creates the initial administrator account. A conflict means
// the instance is already initialized and is treated as success.
func (c *Client) InitAdmin(ctx context.Context) error {
	payload := map[string]string{"Username": c.admin, "Password": c.pass}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/users/admin/init", nil, payload, nil, false)
	})
	if err != nil {
		if IsConflict(err) {
			c.log.Infow("admin user already exists, continuing")
			return nil
		}
		return fmt.Errorf("initialize admin: %w", err)
	}
	c.log.Infow("admin user created", "user", c.admin)
	return nil
}

// Authenticate exchanges the admin credentials for a JWT.
func (c *Client) Authenticate(ctx context.Context) error {
	payload := map[string]string{"username": c.admin, "password": c.pass}
	var out struct {
		JWT string `json:"jwt"`
	}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/auth", nil, payload, &out, false)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if out.JWT == "" {
		return fmt.Errorf("%w: empty token in response", ErrAuthFailed)
	}
	c.jwt = out.JWT
	c.log.Infow("authenticated against control plane")
	return nil
}

// ResolveEndpoint finds the local swarm environment and its cluster ID.
func (c *Client) ResolveEndpoint(ctx context.Context) error {
	var endpoints []struct {
		ID   int    `json:"Id"`
		Name string `json:"Name"`
		Type int    `json:"Type"`
	}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "/endpoints", nil, &endpoints)
	})
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}
	for _, ep := range endpoints {
		if ep.Type == endpointTypeSwarm {
			c.endpointID = ep.ID
			break
		}
	}
	if c.endpointID == 0 && len(endpoints) > 0 {
		// Fresh installs expose the local socket as endpoint 1 before the
		// first snapshot classifies it.
		c.endpointID = endpoints[0].ID
	}
	if c.endpointID == 0 {
		return errors.New("no swarm endpoint registered in control plane")
	}

	var swarm struct {
		ID string `json:"ID"`
	}
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, fmt.Sprintf("/endpoints/%d/docker/swarm", c.endpointID), nil, &swarm)
	})
	if err != nil {
		return fmt.Errorf("resolve swarm cluster: %w", err)
	}
	if swarm.ID == "" {
		return errors.New("swarm cluster ID missing from endpoint")
	}
	c.swarmID = swarm.ID
	c.log.Infow("resolved endpoint", "endpointID", c.endpointID, "swarmID", c.swarmID)
	return nil
}

// DeployStack creates the named stack from rendered compose content, or
// updates it in place when it already exists. Both paths are idempotent.
func (c *Client) DeployStack(ctx context.Context, name, content string) error {
	payload := map[string]any{
		"Name":             name,
		"SwarmID":          c.swarmID,
		"StackFileContent": content,
	}
	query := url.Values{
		"type":       {"1"},
		"method":     {"string"},
		"endpointId": {strconv.Itoa(c.endpointID)},
	}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/stacks", query, payload, nil, true)
	})
	if err == nil {
		c.log.Infow("stack created", "stack", name)
		return nil
	}
	if !IsConflict(err) {
		return fmt.Errorf("create stack %s: %w", name, err)
	}
	c.log.Infow("stack exists, updating in place", "stack", name)
	return c.updateStack(ctx, name, content)
}

func (c *Client) updateStack(ctx context.Context, name, content string) error {
	id, err := c.stackID(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve stack %s: %w", name, err)
	}
	payload := map[string]any{
		"StackFileContent": content,
		"Prune":            false,
	}
	query := url.Values{"endpointId": {strconv.Itoa(c.endpointID)}}
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		return c.putJSON(ctx, fmt.Sprintf("/stacks/%d", id), query, payload, nil)
	})
	if err != nil {
		return fmt.Errorf("update stack %s: %w", name, err)
	}
	c.log.Infow("stack updated", "stack", name, "id", id)
	return nil
}

func (c *Client) stackID(ctx context.Context, name string) (int, error) {
	var stacks []struct {
		ID   int    `json:"Id"`
		Name string `json:"Name"`
	}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "/stacks", nil, &stacks)
	})
	if err != nil {
		return 0, err
	}
	for _, s := range stacks {
		if s.Name == name {
			return s.ID, nil
		}
	}
	return 0, fmt.Errorf("stack %q not found", name)
}

// serviceStatus mirrors the fields of the Docker service list proxied by
// the control plane that matter for health.
type serviceStatus struct {
	Spec struct {
		Name string `json:"Name"`
	} `json:"Spec"`
	ServiceStatus struct {
		RunningTasks uint64 `json:"RunningTasks"`
		DesiredTasks uint64 `json:"DesiredTasks"`
	} `json:"ServiceStatus"`
}

// WaitStackRunning polls the stack's services until every one reports
// all desired tasks running, or the budget elapses. A timeout returns
// retry.ErrPollTimeout; the caller decides whether that degrades or
// aborts the unit.
func (c *Client) WaitStackRunning(ctx context.Context, name string, budget time.Duration) error {
	filters, _ := json.Marshal(map[string][]string{
		"label": {"com.docker.stack.namespace=" + name},
	})
	query := url.Values{
		"filters": {string(filters)},
		"status":  {"true"},
	}
	return retry.Poll(ctx, 2*time.Second, budget, func(ctx context.Context) (bool, error) {
		var services []serviceStatus
		if err := c.getJSON(ctx, fmt.Sprintf("/endpoints/%d/docker/services", c.endpointID), query, &services); err != nil {
			return false, err
		}
		if len(services) == 0 {
			return false, fmt.Errorf("no services for stack %s yet", name)
		}
		for _, svc := range services {
			if svc.ServiceStatus.DesiredTasks == 0 {
				continue
			}
			if svc.ServiceStatus.RunningTasks < svc.ServiceStatus.DesiredTasks {
				return false, fmt.Errorf("service %s: %d/%d tasks running",
					svc.Spec.Name, svc.ServiceStatus.RunningTasks, svc.ServiceStatus.DesiredTasks)
			}
		}
		return true, nil
	})
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out, true)
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, payload, out any, authed bool) error {
	return c.doJSON(ctx, http.MethodPost, path, query, payload, out, authed)
}

func (c *Client) putJSON(ctx context.Context, path string, query url.Values, payload, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, query, payload, out, true)
}

// doJSON performs one API call. Authenticated calls that come back 401
// re-authenticate once and replay; the session token has no assumed
// validity window.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any, authed bool) error {
	err := c.once(ctx, method, path, query, payload, out, authed)
	if authed && isUnauthorized(err) {
		c.log.Infow("session token rejected, re-authenticating", "path", path)
		if authErr := c.Authenticate(ctx); authErr != nil {
			return authErr
		}
		err = c.once(ctx, method, path, query, payload, out, authed)
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, payload, out any, authed bool) error {
	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		if c.jwt == "" {
			return &apiError{status: http.StatusUnauthorized, body: "no session token"}
		}
		req.Header.Set("Authorization", "Bearer "+c.jwt)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return &apiError{status: resp.StatusCode, body: string(data)}
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
