package ai

import "strings"

// ResolveModel returns requested when it is in allowed, otherwise fallback.
// An empty allow-list accepts only the fallback.
func ResolveModel(requested, fallback string, allowed []string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return fallback
	}
	for _, m := range allowed {
		if m == requested {
			return requested
		}
	}
	return fallback
}
