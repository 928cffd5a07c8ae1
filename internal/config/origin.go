package config

import (
	"net/http"
	"net/url"
	"slices"

	"github.com/jammwork/jammwork-sub000/pkg/server"
)

// originCheck builds a CheckOrigin function from an allow list of hosts.
func originCheck(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return server.SameOriginCheck
	}
	if slices.Contains(allowed, "*") {
		return server.AllowAllOrigins
	}
	return func(r *http.Request) bool {
		if server.SameOriginCheck(r) {
			return true
		}
		u, err := url.Parse(r.Header.Get("Origin"))
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Host)
	}
}
