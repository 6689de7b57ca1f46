// Package handlers holds the gin building blocks shared by the HTTP
// servers: readiness checks and middleware.
//
// # Health Checks
//
// CompositeHealthChecker runs named checks in parallel:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", handlers.PingCheck(conn))
//	checker.AddCheck("redis", handlers.PingCheck(cache))
//	router.GET("/ready", handlers.Ready(checker))
//
// # Middleware
//
//   - RequestID: X-Request-ID propagation, also used as the log trace id
//   - RequestLogger: one zap line per request
//   - Recovery: panics become 500 responses
//   - AdminAuth: bearer or X-Admin-Token check against http.admin_token
//   - Timeout: request context deadline
//   - RateLimit: per-IP token bucket on the API group
package handlers
