package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinicq/internal/orchestrator"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type actorContextKey struct{}

// Claims carries the actor identity. The subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret string
	Issuer string
	// DevHeaders accepts X-Actor-ID and X-Actor-Role instead of a token.
	// Only set in development.
	DevHeaders bool
}

type Authenticator struct {
	secret     []byte
	issuer     string
	devHeaders bool
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		devHeaders: cfg.DevHeaders,
	}
}

// Issue signs an HS256 token for actor. Used by the token command and tests.
func (a *Authenticator) Issue(actor orchestrator.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(token string) (orchestrator.Actor, error) {
	if len(a.secret) == 0 {
		return orchestrator.Actor{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return orchestrator.Actor{}, errors.Join(ErrInvalidToken, err)
	}
	actor := orchestrator.Actor{ID: claims.Subject, Role: claims.Role}
	if actor.ID == "" || !validRole(actor.Role) {
		return orchestrator.Actor{}, ErrInvalidToken
	}
	return actor, nil
}

// Authenticate resolves the actor of r from its bearer token, or from the
// access_token query parameter used by sockjs clients.
func (a *Authenticator) Authenticate(r *http.Request) (orchestrator.Actor, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" && a.devHeaders {
		actor := orchestrator.Actor{
			ID:   strings.TrimSpace(r.Header.Get("X-Actor-ID")),
			Role: strings.ToLower(strings.TrimSpace(r.Header.Get("X-Actor-Role"))),
		}
		if actor.ID != "" && validRole(actor.Role) {
			return actor, nil
		}
	}
	if token == "" {
		return orchestrator.Actor{}, ErrMissingToken
	}
	return a.Parse(token)
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := a.Authenticate(r)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrMissingToken) {
				msg = "missing bearer token"
			}
			writeError(w, requestIDFromContext(r.Context()), http.StatusUnauthorized, "unauthorized", msg, "")
			return
		}
		recordActor(r.Context(), actor.ID)
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

// Authorize is the sockjs session check. Any authenticated role may watch a
// department board.
func (a *Authenticator) Authorize(r *http.Request) error {
	_, err := a.Authenticate(r)
	return err
}

func withActor(ctx context.Context, actor orchestrator.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) (orchestrator.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(orchestrator.Actor)
	return actor, ok
}

func validRole(role string) bool {
	switch role {
	case orchestrator.RolePatient, orchestrator.RoleDoctor, orchestrator.RoleAdmin:
		return true
	}
	return false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
		return true
	case strings.HasPrefix(r.URL.Path, "/realtime/"):
		// sockjs authenticates the session itself.
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
