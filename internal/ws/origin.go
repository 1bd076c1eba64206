package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a live connection.
//
//   - no origins configured: same-origin only (gorilla's default check)
//   - "*": any origin
//   - otherwise: exactly the listed scheme://host values
//
// Requests without an Origin header are not from a browser (chatctl, other
// services) and are let through; the browser is the only client that carries
// ambient cookies across sites.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string, logger *slog.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid allowed origin", slog.String("origin", origin))
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

// checkFunc returns the Upgrader.CheckOrigin for the policy. A nil result
// selects gorilla's same-origin check.
func (p *originPolicy) checkFunc(logger *slog.Logger) func(r *http.Request) bool {
	if !p.allowAll && len(p.allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		if p.allows(r.Header.Get("Origin")) {
			return true
		}
		logger.Warn("blocked live connection from disallowed origin",
			slog.String("origin", r.Header.Get("Origin")),
		)
		return false
	}
}

func (p *originPolicy) allows(header string) bool {
	if header == "" || p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
