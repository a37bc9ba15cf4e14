package middleware

import "github.com/go-chi/cors"

// CORS allows cross-origin browser clients to reach the leaderboard HTTP
// endpoint and perform the websocket upgrade handshake. Permissive by
// default since the service sits behind an authenticating proxy that
// already scopes which origins are allowed to reach it.
var CORS = cors.Handler(cors.Options{
	AllowedOrigins:   []string{"*"},
	AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
	AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id"},
	AllowCredentials: false,
	MaxAge:           300,
})
