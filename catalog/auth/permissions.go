package auth

import (
	"fmt"
	"net/http"

	"genome_catalog/catalog/schema"
)

// AdminOnly rejects every caller except the reserved admin principal. It must
// run after the auth middleware so that the principal is on the context.
func AdminOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			principal := Principal(r)
			if principal != schema.AdminUser {
				http.Error(w, fmt.Sprintf("user %v is not an admin", principal), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}
