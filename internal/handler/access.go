package handler

import (
	"context"
	"net/http"
)

// RequireRole guards a route group with a service-level check such as
// AccessService.RequireManagerRole. A failing check is answered through the
// Responder, so a Forbidden from the service becomes a 403.
func RequireRole(check func(ctx context.Context) error, respond *Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(r.Context()); err != nil {
				respond.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
