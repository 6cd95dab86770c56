package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows the browser-based agent UI to call the local control API.
// The daemon listens on loopback, so the origin list is normally just the
// UI dev server or the packaged UI origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return c.Handler
}
