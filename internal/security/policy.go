package security

import (
	"net/http"
	"strings"

	"TrackerAuth/internal/model"

	"github.com/go-chi/chi/v5"
)

const allowAll = "*"

// AuthorizationPolicy maps the role claim to the routes it may reach.
// Routes are "METHOD /pattern" using chi route patterns.
type AuthorizationPolicy struct {
	roles map[string]map[string]struct{}
}

func NewAuthorizationPolicy(roles map[string][]string) *AuthorizationPolicy {
	policy := &AuthorizationPolicy{roles: make(map[string]map[string]struct{}, len(roles))}
	for role, routes := range roles {
		set := make(map[string]struct{}, len(routes))
		for _, route := range routes {
			set[normalizeRoute(route)] = struct{}{}
		}
		policy.roles[role] = set
	}
	return policy
}

func (p *AuthorizationPolicy) Allowed(role, method, pattern string) bool {
	routes, ok := p.roles[role]
	if !ok {
		return false
	}
	if _, ok := routes[allowAll]; ok {
		return true
	}
	_, ok = routes[normalizeRoute(method+" "+pattern)]
	return ok
}

// Authorize must run after JWTMiddleware and inside a chi group, so the
// route pattern is already resolved. Denials are 403 and must never lead a
// client to refresh.
func Authorize(policy *AuthorizationPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims, ok := ClaimsFromContext(request.Context())
			if !ok {
				writeError(writer, http.StatusUnauthorized, model.ErrMissingToken)
				return
			}

			pattern := request.URL.Path
			if rctx := chi.RouteContext(request.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}

			if !policy.Allowed(claims.Role, request.Method, pattern) {
				writeError(writer, http.StatusForbidden, model.ErrForbidden)
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}

func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if route == allowAll {
		return route
	}
	method, path, found := strings.Cut(route, " ")
	if !found {
		return route
	}
	return strings.ToUpper(method) + " " + strings.TrimSpace(path)
}
