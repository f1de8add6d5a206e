// Package unified orchestrates the two automation backends behind one
// executor: Maestro drives the app through the accessibility layer, the
// driver client talks to the widget tree over the VM service. The selector
// decides which backends can serve a finder and in what order; the executor
// walks that order and handles session recovery between attempts.
package unified

import (
	"fmt"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/finder"
)

// Selection is the ordered list of backends to try plus the reason the order
// was chosen, recorded in traces.
type Selection struct {
	Order  []core.Backend
	Reason string
}

// Primary returns the first backend in the order.
func (s Selection) Primary() core.Backend {
	return s.Order[0]
}

// Select computes the backend order for a finder. An explicit override is a
// hard constraint and yields exactly that backend with no fallback.
//
// Without an override, the finder kind decides:
//   - key, type, tooltip, ancestor, descendant exist only in the widget
//     tree, so only the driver can express them (single entry, no fallback)
//   - id is an accessibility-layer lookup, so only Maestro (single entry)
//   - text and semanticsLabel are visible to both layers; Maestro goes
//     first because it is less fragile to app state, driver is the fallback
func Select(f finder.Finder, override *core.Backend) Selection {
	if override != nil {
		return Selection{
			Order:  []core.Backend{*override},
			Reason: fmt.Sprintf("explicit backend override: %s", *override),
		}
	}

	switch f.Kind() {
	case finder.KindKey, finder.KindType, finder.KindTooltip, finder.KindAncestor, finder.KindDescendant:
		return Selection{
			Order:  []core.Backend{core.BackendDriver},
			Reason: fmt.Sprintf("%s finders require widget-tree introspection", f.Kind()),
		}
	case finder.KindID:
		return Selection{
			Order:  []core.Backend{core.BackendMaestro},
			Reason: "id finders resolve in the accessibility layer only",
		}
	default:
		return Selection{
			Order:  []core.Backend{core.BackendMaestro, core.BackendDriver},
			Reason: fmt.Sprintf("%s finders are served by both backends, accessibility first", f.Kind()),
		}
	}
}

// Supports reports whether the backend can express the finder at all.
func Supports(f finder.Finder, backend core.Backend) bool {
	for _, b := range Select(f, nil).Order {
		if b == backend {
			return true
		}
	}
	return false
}
