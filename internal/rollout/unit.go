// File: internal/rollout/unit.go
// Brief: Rollout view of a catalog unit.

package rollout

import (
	"github.com/example/stackup/internal/catalog"
)

// Unit is one deployable stack as the orchestrator sees it. Render is a
// closure so tests can substitute trivial templates without touching the
// embedded catalog.
type Unit struct {
	Name string
	// Bootstrap units deploy before the control plane exists and always
	// use the fallback path.
	Bootstrap bool
	// HostsControlPlane gates the BOOTSTRAPPING → API_INIT transition.
	HostsControlPlane bool
	// HardDeps name earlier units this one cannot function without.
	HardDeps []string
	Hook     catalog.HookID
	Render   func(values map[string]string) (string, error)
}

// UnitsFromCatalog wraps the static catalog for the orchestrator,
// attaching rendering plus structural validation of the rendered
// document.
func UnitsFromCatalog() []Unit {
	defs := catalog.Units()
	out := make([]Unit, 0, len(defs))
	for _, def := range defs {
		def := def
		out = append(out, Unit{
			Name:              def.Name,
			Bootstrap:         def.Bootstrap,
			HostsControlPlane: def.HostsControlPlane,
			HardDeps:          def.HardDeps,
			Hook:              def.Hook,
			Render: func(values map[string]string) (string, error) {
				content, err := def.Render(values)
				if err != nil {
					return "", err
				}
				if err := catalog.ValidateRendered(def.Name, content); err != nil {
					return "", err
				}
				return content, nil
			},
		})
	}
	return out
}
