package middleware

import (
	"net/http"

	"github.com/vedran77/lobby/internal/loader"
	"github.com/vedran77/lobby/internal/repository"
)

// Loaders gives every request its own batched loaders, so nothing loaded
// for one request is served to another.
func Loaders(repos repository.Repos) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := loader.NewContext(r.Context(), loader.New(repos))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
