package tools

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/gohitl", "tools")

// ErrCatalogCollision is matched by every CollisionError
var ErrCatalogCollision = errors.New("tool catalog collision")

// Source is a named catalog taking part in a merge
type Source struct {
	Name    string
	Catalog Catalog
}

// CollisionError reports a tool name defined by more than one source.
// The definition of Next replaced the one of Previous.
type CollisionError struct {
	Name     string
	Previous string
	Next     string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("tool %q from %q overrides the one from %q", e.Name, e.Next, e.Previous)
}

func (e *CollisionError) Unwrap() error {
	return ErrCatalogCollision
}

// Merge unions the catalogs of sources in order.
// On a name collision the later source wins,
// every collision is returned and logged, none is fatal.
// The merged catalog does not keep the origin of a tool.
func Merge(sources ...Source) (Catalog, []*CollisionError) {
	merged := make(Catalog)
	origin := make(map[string]string)
	var collisions []*CollisionError

	for _, src := range sources {
		for _, name := range src.Catalog.Names() {
			def := src.Catalog[name]
			if def == nil {
				continue
			}
			if prev, ok := origin[name]; ok {
				ce := &CollisionError{Name: name, Previous: prev, Next: src.Name}
				collisions = append(collisions, ce)
				metricskey.StatsToolCollisions.IncrCounter(1, name)
				logger.KV(xlog.WARNING,
					"status", "tool_collision",
					"tool", name,
					"previous", prev,
					"next", src.Name,
				)
			}
			merged[name] = def
			origin[name] = src.Name
		}
	}
	return merged, collisions
}
