package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows the SPA origins to call the API. "*" allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			ClientIDHeader,
		},
		ExposedHeaders: []string{ClientIDHeader},
		MaxAge:         86400,
	})
	return c.Handler
}
