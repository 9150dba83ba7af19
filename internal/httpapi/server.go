package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"
)

type ServerConfig struct {
	Auth      *Authenticator
	RateLimit RateLimitConfig
	Logger    zerolog.Logger
}

// Wrap applies the middleware chain to h. Outermost first: request id,
// request log, ip limit, auth, actor limit.
func Wrap(h http.Handler, cfg ServerConfig) http.Handler {
	limiter := NewRateLimiter(cfg.RateLimit)
	h = limiter.ActorMiddleware(h)
	h = cfg.Auth.Middleware(h)
	h = limiter.Middleware(h)
	h = Logging(cfg.Logger)(h)
	return RequestID(h)
}
