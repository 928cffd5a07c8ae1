// Package errors provides coded, operator-facing errors for the relay
// binary.
//
// Errors raised while loading configuration, opening a room store, or
// running a CLI command carry a stable code (e.g. "R102"), a one line
// message from the code registry, and an optional detail and hint:
//
//	err := errors.New("R102").
//	    WithDetail("registry.max_rooms must be positive, got 0").
//	    WithSuggestion("Set RELAY_MAX_ROOMS or registry.max_rooms in the config file")
//
//	errors.PrintError(os.Stderr, err)
//	// ERROR R102: Invalid configuration value
//	//
//	//   registry.max_rooms must be positive, got 0
//	//
//	//   Hint: Set RELAY_MAX_ROOMS or registry.max_rooms in the config file
//
// Library packages (protocol, document, presence, session) return plain
// sentinel and wrapped errors; this package is only for the edges.
package errors
