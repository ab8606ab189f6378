// File: internal/catalog/validate.go
// Brief: Structural validation of rendered compose documents.

package catalog

import (
	"fmt"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"github.com/distribution/reference"
)

// ValidateRendered parses a rendered template as a compose project and
// checks that every service pins an image by tag or digest. It runs
// before a document is handed to either deploy path, so malformed YAML
// or an unpinned image fails the unit up front instead of inside the
// engine.
func ValidateRendered(name, content string) error {
	details := composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{
			{Filename: name + ".yaml", Content: []byte(content)},
		},
		Environment: composetypes.Mapping{},
	}
	project, err := loader.Load(details, func(o *loader.Options) {
		o.SetProjectName(name, true)
		// Substitution already happened; a stray $ in a credential must
		// not be reinterpreted here.
		o.SkipInterpolation = true
		o.SkipConsistencyCheck = true
	})
	if err != nil {
		return fmt.Errorf("parse rendered stack %s: %w", name, err)
	}
	for _, svc := range project.Services {
		if svc.Image == "" {
			return fmt.Errorf("stack %s: service %s has no image", name, svc.Name)
		}
		ref, err := reference.ParseNormalizedNamed(svc.Image)
		if err != nil {
			return fmt.Errorf("stack %s: service %s image %q: %w", name, svc.Name, svc.Image, err)
		}
		if _, tagged := ref.(reference.Tagged); !tagged {
			if _, digested := ref.(reference.Digested); !digested {
				return fmt.Errorf("stack %s: service %s image %q is not pinned to a tag or digest", name, svc.Name, svc.Image)
			}
		}
	}
	return nil
}
