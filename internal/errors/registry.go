package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration (R100-R119)
	"R100": {
		Category:   CategoryConfig,
		Message:    "Cannot read configuration file",
		Suggestion: "Check the --config path and file permissions",
	},
	"R101": {
		Category:   CategoryConfig,
		Message:    "Cannot parse configuration file",
		Suggestion: "Configuration files must be valid YAML or JSON",
	},
	"R102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
	},
	"R103": {
		Category:   CategoryConfig,
		Message:    "Invalid environment override",
		Suggestion: "Durations use Go syntax such as 30s or 5m; sizes and counts are integers",
	},

	// Storage (R120-R139)
	"R120": {
		Category:   CategoryStorage,
		Message:    "Unknown store driver",
		Suggestion: "Use one of: memory, sqlite, postgres, mysql, redis, s3",
	},
	"R121": {
		Category: CategoryStorage,
		Message:  "Cannot open room store",
	},
	"R122": {
		Category: CategoryStorage,
		Message:  "Room store operation failed",
	},
	"R123": {
		Category:   CategoryStorage,
		Message:    "Room not found",
		Suggestion: "Run 'relay rooms list' to see stored rooms",
	},

	// Server (R140-R159)
	"R140": {
		Category:   CategoryServer,
		Message:    "Cannot listen on address",
		Suggestion: "Check that the port is free or set --addr",
	},
	"R141": {
		Category: CategoryServer,
		Message:  "Shutdown did not complete cleanly",
	},

	// CLI (R160-R179)
	"R160": {
		Category: CategoryCLI,
		Message:  "Invalid command arguments",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
