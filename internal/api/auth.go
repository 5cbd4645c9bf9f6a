package api

import (
    "context"
    "net/http"
    "strings"

    "healthnav/internal/auth"
)

type ctxKeyPrincipal struct{}

// authenticate resolves the caller for every /v1 request.
//   - Authorization: Bearer <token> is checked by the configured verifier.
//   - Without a token, dev mode falls back to the X-Role header (default admin).
func (s *Server) authenticate(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        pr, ok := s.getPrincipal(r)
        if !ok {
            writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, pr)))
    })
}

func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
        pr, err := s.Auth.Verify(r.Context(), strings.TrimSpace(authz[len("Bearer "):]))
        if err != nil {
            s.Log.V(1).Info("token rejected", "path", r.URL.Path, "err", err.Error())
            return auth.Principal{}, false
        }
        return pr, true
    }
    if s.Auth.Mode != "dev" {
        return auth.Principal{}, false
    }
    role := strings.ToLower(r.Header.Get("X-Role"))
    if role == "" {
        role = auth.RoleAdmin
    }
    return auth.Principal{Subject: r.Header.Get("X-Subject"), Role: role}, true
}

func principal(ctx context.Context) auth.Principal {
    pr, _ := ctx.Value(ctxKeyPrincipal{}).(auth.Principal)
    return pr
}

// requireRole admits only the listed roles.
func requireRole(roles ...string) func(http.Handler) http.Handler {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            pr := principal(r.Context())
            for _, role := range roles {
                if pr.Role == role {
                    next.ServeHTTP(w, r)
                    return
                }
            }
            writeProblem(w, http.StatusForbidden, "Forbidden", strings.Join(roles, " or ")+" required", r.URL.Path)
        })
    }
}
