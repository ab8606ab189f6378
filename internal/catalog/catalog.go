// File: internal/catalog/catalog.go
// Brief: Fixed ordered catalog of deployable stack units.

// Package catalog declares the stacks stackup deploys, in order, with
// their templates, variable requirements, hard dependencies, and hooks.
// The catalog is static; rendering substitutes the run's variable set
// into the embedded compose templates.
package catalog

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/example/stackup/internal/vars"
)

//go:embed templates/*.yaml
var templatesFS embed.FS

// HookID names a post-deploy hook implemented in internal/hooks.
type HookID string

const (
	// HookNone marks units without imperative follow-up.
	HookNone HookID = ""
	// HookMinIOProvision creates the bucket, policy, and access keys.
	HookMinIOProvision HookID = "minio-provision"
	// HookChatwootPrepare runs the one-shot database preparation.
	HookChatwootPrepare HookID = "chatwoot-prepare"
)

// Unit is one deployable stack.
type Unit struct {
	Name string
	Seq  int
	// Bootstrap units deploy before the control plane is initialized and
	// therefore always go through the fallback executor.
	Bootstrap bool
	// HostsControlPlane marks the unit whose health gates API_INIT.
	HostsControlPlane bool
	// HardDeps are units that must have reached at least degraded state
	// before this unit can function at all.
	HardDeps []string
	Hook     HookID

	templateFile string
}

var units = []Unit{
	{Name: "traefik", Seq: 1, Bootstrap: true, templateFile: "01-traefik.yaml"},
	{Name: "portainer", Seq: 2, Bootstrap: true, HostsControlPlane: true, templateFile: "02-portainer.yaml"},
	{Name: "redis", Seq: 3, templateFile: "03-redis.yaml"},
	{Name: "redis-chatwoot", Seq: 4, templateFile: "04-redis-chatwoot.yaml"},
	{Name: "postgres", Seq: 5, templateFile: "05-postgres.yaml"},
	{Name: "rabbitmq", Seq: 6, templateFile: "06-rabbitmq.yaml"},
	{Name: "minio", Seq: 7, Hook: HookMinIOProvision, templateFile: "07-minio.yaml"},
	{Name: "n8n", Seq: 8, HardDeps: []string{"postgres"}, templateFile: "08-n8n.yaml"},
	{Name: "chatwoot", Seq: 9, HardDeps: []string{"postgres", "redis-chatwoot"}, Hook: HookChatwootPrepare, templateFile: "09-chatwoot.yaml"},
}

// hookProduces maps hook-derived keys to the sequence position of the
// unit whose hook produces them. Units at or before that position must
// not reference these keys.
var hookProduces = map[vars.Key]int{
	vars.StorageAccessKeyID:     7,
	vars.StorageSecretAccessKey: 7,
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// Units returns the catalog in deployment order.
func Units() []Unit {
	out := make([]Unit, len(units))
	copy(out, units)
	return out
}

// ByName returns a unit by name.
func ByName(name string) (Unit, bool) {
	for _, u := range units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// Template returns the raw template content for a unit.
func (u Unit) Template() (string, error) {
	data, err := templatesFS.ReadFile("templates/" + u.templateFile)
	if err != nil {
		return "", fmt.Errorf("read template for %s: %w", u.Name, err)
	}
	return string(data), nil
}

// Placeholders returns the sorted set of variable keys the unit's
// template references.
func (u Unit) Placeholders() ([]vars.Key, error) {
	content, err := u.Template()
	if err != nil {
		return nil, err
	}
	seen := map[vars.Key]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(content, -1) {
		seen[vars.Key(m[1])] = struct{}{}
	}
	out := make([]vars.Key, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Render substitutes values into the unit's template. Every placeholder
// must resolve; unresolved keys are an error naming them all.
func (u Unit) Render(values map[string]string) (string, error) {
	content, err := u.Template()
	if err != nil {
		return "", err
	}
	var missing []string
	rendered := placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := values[key]; ok {
			return v
		}
		missing = append(missing, key)
		return m
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("unresolved variables in %s: %s", u.Name, strings.Join(missing, ", "))
	}
	return rendered, nil
}

// Validate checks the static catalog invariants: every placeholder is a
// declared variable key, no unit references a hook-produced key before
// the producing unit has deployed, and hard dependencies point at
// earlier units.
func Validate() error {
	byName := map[string]Unit{}
	for _, u := range units {
		byName[u.Name] = u
	}
	for _, u := range units {
		keys, err := u.Placeholders()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, ok := vars.Lookup(k); !ok {
				return fmt.Errorf("unit %s references undeclared key %s", u.Name, k)
			}
			if producedAt, ok := hookProduces[k]; ok && u.Seq <= producedAt {
				return fmt.Errorf("unit %s (seq %d) references %s, which only exists after seq %d",
					u.Name, u.Seq, k, producedAt)
			}
		}
		for _, dep := range u.HardDeps {
			d, ok := byName[dep]
			if !ok {
				return fmt.Errorf("unit %s depends on unknown unit %s", u.Name, dep)
			}
			if d.Seq >= u.Seq {
				return fmt.Errorf("unit %s (seq %d) depends on %s (seq %d), which deploys later",
					u.Name, u.Seq, dep, d.Seq)
			}
		}
	}
	return nil
}
