// Package core defines the shared types for unified backend execution:
// backend tags, the error taxonomy, and execution results.
package core

import "fmt"

// Backend identifies an automation backend.
type Backend int

const (
	// BackendMaestro drives the UI through the accessibility layer via the
	// Maestro CLI. Text and resource-id lookups.
	BackendMaestro Backend = iota
	// BackendDriver speaks the Flutter Driver protocol to the app's Dart VM
	// service. Key, type, tooltip and semantics lookups on the widget tree.
	BackendDriver
)

// String returns the wire name of the backend.
func (b Backend) String() string {
	switch b {
	case BackendMaestro:
		return "maestro"
	case BackendDriver:
		return "driver"
	default:
		return "unknown"
	}
}

// ParseBackend parses a backend name as used in finder overrides.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "maestro":
		return BackendMaestro, nil
	case "driver":
		return BackendDriver, nil
	default:
		return 0, fmt.Errorf("unknown backend %q (want maestro or driver)", s)
	}
}
