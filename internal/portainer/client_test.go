package portainer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/stackup/internal/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return 0 },
		Retryable:   retry.IsRetryable,
	}
}

func newTestClient(baseURL string) *Client {
	return New(Options{
		BaseURL:       baseURL,
		AdminUser:     "admin",
		AdminPassword: "secret",
		Policy:        fastPolicy(2),
	})
}

func TestWaitReadySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.WaitReady(context.Background(), time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestWaitReadyTimesOutAsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.WaitReady(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestInitAdminTreatsConflictAsSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/api/users/admin/init" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.InitAdmin(context.Background()); err != nil {
		t.Fatalf("InitAdmin on conflict: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("conflict was retried %d times", calls)
	}
}

func TestInitAdminCreatesUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		if payload["Username"] != "admin" || payload["Password"] != "secret" {
			t.Errorf("payload = %v", payload)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).InitAdmin(context.Background()); err != nil {
		t.Fatalf("InitAdmin: %v", err)
	}
}

func TestAuthenticateStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"jwt": "token-1"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if c.jwt != "token-1" {
		t.Errorf("jwt = %q", c.jwt)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Authenticate(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestResolveEndpointPrefersSwarmType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/endpoints":
			json.NewEncoder(w).Encode([]map[string]any{
				{"Id": 1, "Name": "local", "Type": 1},
				{"Id": 2, "Name": "swarm", "Type": 4},
			})
		case "/api/endpoints/2/docker/swarm":
			json.NewEncoder(w).Encode(map[string]string{"ID": "cluster-xyz"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "tok"
	if err := c.ResolveEndpoint(context.Background()); err != nil {
		t.Fatalf("ResolveEndpoint: %v", err)
	}
	if c.EndpointID() != 2 || c.SwarmID() != "cluster-xyz" {
		t.Errorf("endpoint=%d swarm=%q", c.EndpointID(), c.SwarmID())
	}
}

func TestResolveEndpointFallsBackToFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/endpoints":
			json.NewEncoder(w).Encode([]map[string]any{
				{"Id": 7, "Name": "local", "Type": 1},
			})
		case "/api/endpoints/7/docker/swarm":
			json.NewEncoder(w).Encode(map[string]string{"ID": "cluster-abc"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "tok"
	if err := c.ResolveEndpoint(context.Background()); err != nil {
		t.Fatalf("ResolveEndpoint: %v", err)
	}
	if c.EndpointID() != 7 {
		t.Errorf("endpoint = %d, want 7", c.EndpointID())
	}
}

func TestDeployStackCreates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stacks" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "1" || q.Get("method") != "string" || q.Get("endpointId") != "3" {
			t.Errorf("query = %v", q)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["Name"] != "redis" || payload["SwarmID"] != "cluster-xyz" {
			t.Errorf("payload = %v", payload)
		}
		if !strings.Contains(payload["StackFileContent"].(string), "image: redis") {
			t.Error("stack file content not forwarded")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "tok"
	c.endpointID = 3
	c.swarmID = "cluster-xyz"
	if err := c.DeployStack(context.Background(), "redis", "services:\n  redis:\n    image: redis:7.2\n"); err != nil {
		t.Fatalf("DeployStack: %v", err)
	}
}

func TestDeployStackUpdatesOnConflict(t *testing.T) {
	var putCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/stacks":
			http.Error(w, "stack already exists", http.StatusConflict)
		case r.Method == http.MethodGet && r.URL.Path == "/api/stacks":
			json.NewEncoder(w).Encode([]map[string]any{
				{"Id": 11, "Name": "redis"},
				{"Id": 12, "Name": "postgres"},
			})
		case r.Method == http.MethodPut && r.URL.Path == "/api/stacks/11":
			putCalled = true
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if prune, ok := payload["Prune"].(bool); !ok || prune {
				t.Errorf("Prune = %v", payload["Prune"])
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "tok"
	c.endpointID = 3
	if err := c.DeployStack(context.Background(), "redis", "content"); err != nil {
		t.Fatalf("DeployStack: %v", err)
	}
	if !putCalled {
		t.Error("conflict did not trigger an update")
	}
}

func TestReauthenticatesOnceOnExpiredToken(t *testing.T) {
	var authCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			atomic.AddInt32(&authCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{"jwt": "fresh"})
		case "/api/endpoints":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				http.Error(w, "token expired", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode([]map[string]any{{"Id": 1, "Name": "local", "Type": 4}})
		case "/api/endpoints/1/docker/swarm":
			json.NewEncoder(w).Encode(map[string]string{"ID": "c1"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "stale"
	if err := c.ResolveEndpoint(context.Background()); err != nil {
		t.Fatalf("ResolveEndpoint: %v", err)
	}
	if got := atomic.LoadInt32(&authCalls); got != 1 {
		t.Errorf("auth calls = %d, want 1", got)
	}
	if c.jwt != "fresh" {
		t.Errorf("jwt = %q, want refreshed token", c.jwt)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).InitAdmin(context.Background()); err != nil {
		t.Fatalf("InitAdmin: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWaitStackRunning(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/endpoints/3/docker/services" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Query().Get("filters"), "com.docker.stack.namespace=redis") {
			t.Errorf("filters = %q", r.URL.Query().Get("filters"))
		}
		running := uint64(0)
		if atomic.AddInt32(&polls, 1) >= 2 {
			running = 1
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"Spec":          map[string]any{"Name": "redis_redis"},
				"ServiceStatus": map[string]any{"RunningTasks": running, "DesiredTasks": 1},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "tok"
	c.endpointID = 3
	if err := c.WaitStackRunning(context.Background(), "redis", 30*time.Second); err != nil {
		t.Fatalf("WaitStackRunning: %v", err)
	}
	if atomic.LoadInt32(&polls) < 2 {
		t.Errorf("polls = %d, want at least 2", polls)
	}
}

func TestWaitStackRunningTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"Spec":          map[string]any{"Name": "redis_redis"},
				"ServiceStatus": map[string]any{"RunningTasks": 0, "DesiredTasks": 1},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.jwt = "tok"
	c.endpointID = 3
	err := c.WaitStackRunning(context.Background(), "redis", 10*time.Millisecond)
	if !errors.Is(err, retry.ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}
